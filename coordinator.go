// Package singleinstance ensures that only one instance of an application runs
// per user and forwards the command-line arguments of every later instance to
// the one that is already running.
//
// The first process to take an exclusive per-user lock becomes the first
// instance and listens on a notification channel. Any later process finds the
// lock held, publishes its argument vector on that channel once, and returns
// false so the host can exit.
//
//	c := singleinstance.New()
//	first, err := c.InitializeAsFirstInstance(app, "MyApp")
//	if err != nil {
//		return err
//	}
//	if !first {
//		return nil // arguments were handed to the running instance
//	}
//	defer c.Cleanup()
package singleinstance

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/singleinstance/internal/args"
	"github.com/Iron-Ham/singleinstance/internal/codec"
	"github.com/Iron-Ham/singleinstance/internal/errors"
	"github.com/Iron-Ham/singleinstance/internal/lock"
	"github.com/Iron-Ham/singleinstance/internal/logging"
	"github.com/Iron-Ham/singleinstance/internal/metrics"
	"github.com/Iron-Ham/singleinstance/transport"
	"github.com/Iron-Ham/singleinstance/transport/socket"
)

// Invokable receives the argument vectors of later instances.
// OnInstanceInvoked runs on a transport goroutine and may be called
// concurrently; implementations do their own synchronization.
type Invokable interface {
	OnInstanceInvoked(args []string)
}

// InvokedFunc adapts a plain function to Invokable.
type InvokedFunc func(args []string)

// OnInstanceInvoked calls f(args).
func (f InvokedFunc) OnInstanceInvoked(args []string) { f(args) }

// State is the coordinator's lifecycle position.
type State int

const (
	// StateUninitialized means no Initialize call has succeeded yet.
	StateUninitialized State = iota
	// StateListening means this process is the first instance and receives
	// arguments from later ones.
	StateListening
	// StateSignaled means another instance holds the lock and this process
	// has made its one publish attempt.
	StateSignaled
	// StateTerminated means Cleanup has run.
	StateTerminated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateListening:
		return "listening"
	case StateSignaled:
		return "signaled"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Result is delivered by InitializeAsync.
type Result struct {
	First bool
	Err   error
}

// Coordinator holds one process's instance lock and notification channel.
// It is safe for concurrent use. The zero value is not usable; call New.
type Coordinator struct {
	transport      transport.Transport
	lockDir        string
	logger         *logging.Logger
	argSource      func() []string
	userName       func() string
	publishTimeout time.Duration
	metrics        *metrics.Metrics
	onDecodeError  func(error)

	mu         sync.Mutex
	state      State
	identifier string
	lock       *lock.InstanceLock
	subscriber transport.Subscriber
}

// New creates a Coordinator. Without options it locks under lock.DefaultDir,
// talks over a Unix domain socket in the same directory and forwards os.Args.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:         logging.NopLogger(),
		argSource:      args.Current,
		userName:       CurrentUser,
		publishTimeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.lockDir == "" {
		c.lockDir = lock.DefaultDir()
	}
	if c.transport == nil {
		c.transport = socket.New(socket.Options{
			Dir:    c.lockDir,
			Logger: c.logger,
		})
	}
	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identifier returns the application identifier computed by the most recent
// Initialize call, or "" before the first one.
func (c *Coordinator) Identifier() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identifier
}

// InitializeAsFirstInstance is the blocking form of InitializeContext. It runs
// InitializeAsync to completion. A secondary instance's publish is bounded by
// the publish timeout.
func (c *Coordinator) InitializeAsFirstInstance(target Invokable, uniqueName string) (bool, error) {
	r := <-c.InitializeAsync(context.Background(), target, uniqueName)
	return r.First, r.Err
}

// InitializeAsync runs InitializeContext on a new goroutine. The returned
// channel yields exactly one Result and is then closed.
func (c *Coordinator) InitializeAsync(ctx context.Context, target Invokable, uniqueName string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		first, err := c.InitializeContext(ctx, target, uniqueName)
		out <- Result{First: first, Err: err}
	}()
	return out
}

// InitializeContext decides whether this process is the first instance of
// uniqueName for the current user.
//
// When it is, the coordinator starts listening and every argument vector a
// later instance publishes is passed to target, and InitializeContext returns
// true. Otherwise this process's argument vector is published once to the
// first instance and InitializeContext returns false.
//
// Losing the lock is not an error. Errors are returned for an empty name or
// nil target (before any lock attempt), for a lock file that cannot be opened,
// and for transport failures. ctx bounds the publish together with the
// publish timeout.
func (c *Coordinator) InitializeContext(ctx context.Context, target Invokable, uniqueName string) (bool, error) {
	if strings.TrimSpace(uniqueName) == "" {
		c.metrics.Election(metrics.ResultError)
		return false, errors.NewConfigurationError("unique name must not be empty", errors.ErrEmptyName).
			WithField("uniqueName").
			WithValue(uniqueName)
	}
	if isNilTarget(target) {
		c.metrics.Election(metrics.ResultError)
		return false, errors.NewConfigurationError("callback target must not be nil", errors.ErrNilTarget).
			WithField("target")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateListening || c.state == StateSignaled {
		return false, errors.ErrAlreadyInitialized
	}

	identifier := ApplicationIdentifier(uniqueName, c.userName())
	channel := ChannelName(identifier)
	c.identifier = identifier
	log := c.logger.WithIdentifier(identifier)

	held, first, err := lock.TryAcquire(c.lockDir, identifier, c.logger)
	if err != nil {
		c.metrics.Election(metrics.ResultError)
		logFailure(log, "instance lock unavailable", err)
		return false, err
	}

	if first {
		log = log.WithRole("first")
		sub, err := c.transport.OpenSubscriber(ctx, channel, c.receive(target, log))
		if err != nil {
			if relErr := held.Release(); relErr != nil {
				log.Warn("lock release after failed subscribe", "error", relErr.Error())
			}
			c.metrics.Election(metrics.ResultError)
			trErr := errors.NewTransportError(errors.OpOpenSubscriber, err).
				WithChannel(channel).
				WithRetryable(false)
			logFailure(log, "notification channel unavailable", trErr)
			return false, trErr
		}

		c.lock = held
		c.subscriber = sub
		c.state = StateListening
		c.metrics.Election(metrics.ResultFirst)
		log.Info("first instance listening", "channel", channel, "lock", held.Path())
		return true, nil
	}

	log = log.WithRole("secondary")
	c.state = StateSignaled
	c.metrics.Election(metrics.ResultSecondary)
	log.Info("another instance is running", "channel", channel)

	return false, c.signal(ctx, channel, log)
}

// signal publishes this process's arguments to the first instance once.
func (c *Coordinator) signal(ctx context.Context, channel string, log *logging.Logger) error {
	pub, err := c.transport.OpenPublisher(ctx, channel)
	if err != nil {
		c.metrics.Published(metrics.OutcomeError, 0)
		trErr := errors.NewTransportError(errors.OpOpenPublisher, err).WithChannel(channel)
		logFailure(log, "could not open publisher", trErr)
		return trErr
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Debug("publisher close failed", "error", err.Error())
		}
	}()

	argv := c.argSource()
	payload, err := codec.Encode(argv)
	if err != nil {
		c.metrics.Published(metrics.OutcomeError, 0)
		return errors.NewTransportError(errors.OpPublish, err).
			WithChannel(channel).
			WithRetryable(false)
	}

	publishCtx, cancel := context.WithTimeout(ctx, c.publishTimeout)
	defer cancel()

	start := time.Now()
	err = pub.Publish(publishCtx, payload)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		c.metrics.Published(metrics.OutcomeOK, elapsed)
		log.Debug("arguments forwarded", "args", len(argv), "bytes", len(payload), "duration", elapsed.String())
		return nil

	case ctx.Err() == nil && publishCtx.Err() != nil:
		c.metrics.Published(metrics.OutcomeTimeout, elapsed)
		toErr := errors.NewTimeoutError("forward arguments to first instance", c.publishTimeout).WithCause(err)
		logFailure(log, "forwarding arguments timed out", toErr)
		return toErr

	default:
		c.metrics.Published(metrics.OutcomeError, elapsed)
		trErr := errors.NewTransportError(errors.OpPublish, err).WithChannel(channel)
		logFailure(log, "forwarding arguments failed", trErr)
		return trErr
	}
}

// receive returns the subscriber handler. Payloads that fail to decode are
// logged and dropped so the target never sees partial data.
func (c *Coordinator) receive(target Invokable, log *logging.Logger) transport.Handler {
	return func(payload []byte) {
		argv, err := codec.Decode(payload)
		if err != nil {
			c.metrics.DecodeFailed()
			log.Warn("dropping undecodable payload", "bytes", len(payload), "error", err.Error())
			if c.onDecodeError != nil {
				c.onDecodeError(err)
			}
			return
		}

		c.metrics.InvocationReceived()
		log.Debug("instance invoked", "args", len(argv))
		c.invoke(target, argv, log)
	}
}

func (c *Coordinator) invoke(target Invokable, argv []string, log *logging.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("instance callback panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	target.OnInstanceInvoked(argv)
}

// Cleanup stops listening and releases the instance lock. It never fails:
// errors are logged and dropped. Calling it any number of times, or on a
// coordinator that never initialized or lost the election, is safe. After
// Cleanup the coordinator can be initialized again.
func (c *Coordinator) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.logger
	if c.identifier != "" {
		log = log.WithIdentifier(c.identifier)
	}

	if c.subscriber != nil {
		if err := c.subscriber.Close(); err != nil {
			log.Warn("closing notification channel failed", "error", err.Error())
		}
		c.subscriber = nil
	}
	if c.lock != nil {
		if err := c.lock.Release(); err != nil {
			log.Warn("releasing instance lock failed", "error", err.Error())
		}
		c.lock = nil
	}

	if c.state != StateUninitialized && c.state != StateTerminated {
		log.Debug("coordinator cleaned up", "from", c.state.String())
		c.state = StateTerminated
	}
}

// logFailure logs err at ERROR when its severity is error or worse, else WARN.
func logFailure(log *logging.Logger, msg string, err error) {
	if errors.GetSeverity(err) >= errors.SeverityError {
		log.Error(msg, "error", err.Error(), "retryable", errors.IsRetryable(err))
		return
	}
	log.Warn(msg, "error", err.Error(), "retryable", errors.IsRetryable(err))
}

func isNilTarget(target Invokable) bool {
	if target == nil {
		return true
	}
	if f, ok := target.(InvokedFunc); ok && f == nil {
		return true
	}
	return false
}
