package lock

import (
	"errors"
	"time"
)

const (
	// DefaultTTL is the lease duration used when WithTTL is not given.
	DefaultTTL = 3 * time.Second

	maxPollInterval = time.Second
)

var (
	// ErrInvalidTTL is returned when a session is requested with a ttl shorter
	// than one millisecond.
	ErrInvalidTTL = errors.New("lock: ttl must be at least one millisecond")
	// ErrInvalidRetries is returned when a negative retry budget is requested.
	ErrInvalidRetries = errors.New("lock: retries must not be negative")
)

// Option configures a single lock session.
type Option func(*sessionOptions)

type sessionOptions struct {
	ttl          time.Duration
	retries      int
	onError      func(error)
	pollInterval time.Duration
}

// WithTTL sets the lease duration. The heartbeat renews the lease every
// ceil(ttl/2).
func WithTTL(d time.Duration) Option {
	return func(o *sessionOptions) {
		o.ttl = d
	}
}

// WithRetries sets how many consecutive renewal failures are tolerated before
// the lease is given up.
func WithRetries(n int) Option {
	return func(o *sessionOptions) {
		o.retries = n
	}
}

// WithOnError registers a sink for background errors: lost leases and failed
// releases.
func WithOnError(fn func(error)) Option {
	return func(o *sessionOptions) {
		o.onError = fn
	}
}

// WithPollInterval sets how long Wait sleeps between attempts when no unlock
// event arrives.
func WithPollInterval(d time.Duration) Option {
	return func(o *sessionOptions) {
		o.pollInterval = d
	}
}

func newSessionOptions(opts []Option) (sessionOptions, error) {
	o := sessionOptions{ttl: DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl < time.Millisecond {
		return o, ErrInvalidTTL
	}
	if o.retries < 0 {
		return o, ErrInvalidRetries
	}
	if o.pollInterval <= 0 {
		o.pollInterval = min(renewInterval(o.ttl), maxPollInterval)
	}
	return o, nil
}

func (o sessionOptions) report(err error) {
	if o.onError != nil {
		o.onError(err)
	}
}
