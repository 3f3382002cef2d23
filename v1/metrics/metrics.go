package metrics

import "github.com/prometheus/client_golang/prometheus"

// Result label values.
const (
	ResultAcquired  = "acquired"
	ResultContended = "contended"
	ResultError     = "error"
	ResultOK        = "ok"
	ResultFailed    = "failed"
)

var (
	// AcquireCounter tracks acquisition attempts by result.
	AcquireCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_acquire_total",
		Help: "Total number of lease acquisition attempts",
	}, []string{"result"})
	// RenewCounter tracks heartbeat renewals by result.
	RenewCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_renew_total",
		Help: "Total number of lease renewals",
	}, []string{"result"})
	// ReleaseCounter tracks releases by result.
	ReleaseCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_release_total",
		Help: "Total number of lease releases",
	}, []string{"result"})
	// LostCounter tracks leases given up after the retry budget ran out.
	LostCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lease_lost_total",
		Help: "Total number of leases lost while the critical section was running",
	})
	// HeldGauge reports the number of leases held by this process.
	HeldGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lease_held",
		Help: "Current number of leases held by this process",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterLockMetrics registers the lease metrics on the provided registry.
func RegisterLockMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquireCounter, RenewCounter, ReleaseCounter, LostCounter, HeldGauge)
}
