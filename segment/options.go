package segment

import (
	"log"
	"time"

	"github.com/jpillora/backoff"
)

const (
	defaultMaxAttempts   = 8
	defaultBackoffMin    = 100 * time.Millisecond
	defaultBackoffMax    = 5 * time.Second
	defaultBackoffFactor = 2
)

type options struct {
	backoff     backoff.Backoff
	maxAttempts int
	logger      *log.Logger
}

func defaultOptions() options {
	return options{
		backoff: backoff.Backoff{
			Min:    defaultBackoffMin,
			Max:    defaultBackoffMax,
			Factor: defaultBackoffFactor,
			Jitter: true,
		},
		maxAttempts: defaultMaxAttempts,
		logger:      log.Default(),
	}
}

type Option func(*options)

// WithBackoff sets the delay schedule between connection attempts.
func WithBackoff(min, max time.Duration, factor float64, jitter bool) Option {
	return func(o *options) {
		o.backoff = backoff.Backoff{Min: min, Max: max, Factor: factor, Jitter: jitter}
	}
}

// WithMaxAttempts bounds the connection attempts made per (re)connection. Values below one mean one.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.maxAttempts = n
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
