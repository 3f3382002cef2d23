package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
	"github.com/mirkobrombin/go-lease/v1/metrics"
	"github.com/mirkobrombin/go-lease/v1/store"
)

const maxRetryBackoff = 10 * time.Millisecond

// HeartbeatState is the phase of the renewal loop attached to a session.
type HeartbeatState int32

const (
	// StateArmed waits for the first renewal interval.
	StateArmed HeartbeatState = iota
	// StateActive renews the lease every interval.
	StateActive
	// StateDegraded retries a failed renewal after a short backoff.
	StateDegraded
	// StateStopped is terminal.
	StateStopped
)

func (s HeartbeatState) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// renewInterval returns ceil(ttl/2) in whole milliseconds.
func renewInterval(ttl time.Duration) time.Duration {
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return time.Duration((ms+1)/2) * time.Millisecond
}

func retryBackoff(interval time.Duration) time.Duration {
	return min(maxRetryBackoff, interval)
}

// heartbeat keeps a lease alive until stopped or until the retry budget is
// spent. Renewals run one at a time on a single goroutine.
type heartbeat struct {
	locks    *Locks
	ctx      context.Context
	ttl      time.Duration
	interval time.Duration
	retries  int
	report   func(error)
	cancel   context.CancelCauseFunc

	state    atomic.Int32
	mu       sync.Mutex
	lease    *store.Record
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newHeartbeat(ctx context.Context, l *Locks, rec *store.Record, o sessionOptions, cancel context.CancelCauseFunc) *heartbeat {
	return &heartbeat{
		locks:    l,
		ctx:      ctx,
		ttl:      o.ttl,
		interval: renewInterval(o.ttl),
		retries:  o.retries,
		report:   o.report,
		cancel:   cancel,
		lease:    rec,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State returns the current phase of the loop.
func (h *heartbeat) State() HeartbeatState {
	return HeartbeatState(h.state.Load())
}

func (h *heartbeat) setState(s HeartbeatState) {
	h.state.Store(int32(s))
}

// Lease returns the record the loop believes it holds, or nil once the lease
// was given up.
func (h *heartbeat) Lease() *store.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lease
}

func (h *heartbeat) setLease(rec *store.Record) {
	h.mu.Lock()
	h.lease = rec
	h.mu.Unlock()
}

func (h *heartbeat) start() {
	go h.run()
}

// Stop asks the loop to exit and waits for it. An in-flight renewal completes
// first. It returns the record still held, if any.
func (h *heartbeat) Stop() *store.Record {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
	return h.Lease()
}

func (h *heartbeat) run() {
	defer close(h.done)
	defer h.setState(StateStopped)

	if !h.sleep(h.interval) {
		return
	}
	h.setState(StateActive)

	failures := 0
	for {
		select {
		case <-h.stop:
			return
		default:
		}

		cur := h.Lease()
		next, err := h.locks.Renew(h.ctx, cur, h.ttl)
		switch {
		case err == nil:
			h.setLease(next)
			failures = 0
			h.setState(StateActive)
			h.locks.logger.Debug("lease renewed",
				zap.String("name", next.Name),
				zap.Time("expires_at", next.ExpiresAt))
		case failures == h.retries:
			h.giveUp(cur.Name, err, failures)
			return
		default:
			failures++
			h.setState(StateDegraded)
			h.locks.logger.Debug("lease renewal failed, retrying",
				zap.String("name", cur.Name),
				zap.Int("failures", failures),
				zap.Int("retries", h.retries),
				zap.Error(err))
		}

		wait := h.interval
		if failures > 0 {
			wait = retryBackoff(h.interval)
		}
		if !h.sleep(wait) {
			return
		}
	}
}

func (h *heartbeat) giveUp(name string, err error, failures int) {
	lost := err
	if !errors.Is(err, leaseerrors.ErrRelock) {
		lost = leaseerrors.NewRelockError(name, err)
	}
	h.setLease(nil)
	h.setState(StateStopped)
	metrics.LostCounter.Inc()
	h.locks.logger.Warn("lease lost",
		zap.String("name", name),
		zap.Int("failures", failures+1),
		zap.Error(lost))
	h.report(lost)
	h.cancel(lost)
}

// sleep waits for d and reports false if the loop was stopped meanwhile.
func (h *heartbeat) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-h.stop:
		return false
	}
}
