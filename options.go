package singleinstance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/singleinstance/internal/logging"
	"github.com/Iron-Ham/singleinstance/internal/metrics"
	"github.com/Iron-Ham/singleinstance/transport"
)

// DefaultPublishTimeout bounds how long a secondary instance spends handing
// its arguments to the first instance.
const DefaultPublishTimeout = 5 * time.Second

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTransport sets the notification channel implementation. The default is
// a Unix domain socket transport rooted in the lock directory.
func WithTransport(t transport.Transport) Option {
	return func(c *Coordinator) {
		c.transport = t
	}
}

// WithLockDir sets the directory holding instance lock files.
func WithLockDir(dir string) Option {
	return func(c *Coordinator) {
		c.lockDir = dir
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithArgSource replaces the function that captures this process's argument
// vector before it is forwarded.
func WithArgSource(src func() []string) Option {
	return func(c *Coordinator) {
		if src != nil {
			c.argSource = src
		}
	}
}

// WithUserName overrides the OS user name used in the application identifier.
func WithUserName(name string) Option {
	return func(c *Coordinator) {
		c.userName = func() string { return name }
	}
}

// WithPublishTimeout bounds the secondary instance's publish. Non-positive
// values are ignored.
func WithPublishTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.publishTimeout = d
		}
	}
}

// WithRegisterer registers coordinator metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Coordinator) {
		c.metrics = metrics.New(reg)
	}
}

// WithMetrics uses an existing metrics set, so several coordinators can share
// one set of collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithDecodeErrorHandler is called, on the transport's goroutine, for every
// received payload that cannot be decoded. The target is not invoked for
// such payloads.
func WithDecodeErrorHandler(fn func(error)) Option {
	return func(c *Coordinator) {
		c.onDecodeError = fn
	}
}
