// Package socket implements the notification channel over a Unix domain
// socket. It is the default transport.
//
// The first instance listens on <dir>/<hash>.sock, where hash is derived from
// the channel name. A secondary instance dials it, writes one length-prefixed
// frame and waits for a one-byte acknowledgement, so a successful Publish
// means the first instance has read the payload.
//
// Unix domain sockets are available on Linux, macOS and Windows 10 1803+.
package socket

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-msgio"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/singleinstance/internal/logging"
	"github.com/Iron-Ham/singleinstance/transport"
)

const (
	// MaxFrameSize bounds a single payload.
	MaxFrameSize = 1 << 20

	// DefaultConnectWait is how long a publisher keeps dialing while the
	// first instance is between taking the lock and listening.
	DefaultConnectWait = 2 * time.Second

	ack          = 0x06
	dialInterval = 25 * time.Millisecond

	// inboxSize bounds acknowledged frames waiting for the handler on one
	// connection.
	inboxSize = 16
)

// ErrFrameTooLarge is returned by Publish for payloads above MaxFrameSize.
var ErrFrameTooLarge = errors.New("socket: payload exceeds maximum frame size")

// Options configures a Transport.
type Options struct {
	// Dir holds the socket files. Required.
	Dir string
	// ConnectWait bounds dial attempts per Publish. Zero means DefaultConnectWait.
	ConnectWait time.Duration
	// Logger is optional.
	Logger *logging.Logger
}

// Transport opens socket-backed channels.
type Transport struct {
	dir         string
	connectWait time.Duration
	logger      *logging.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New creates a socket Transport.
func New(opts Options) *Transport {
	t := &Transport{
		dir:         opts.Dir,
		connectWait: opts.ConnectWait,
		logger:      opts.Logger,
	}
	if t.connectWait <= 0 {
		t.connectWait = DefaultConnectWait
	}
	if t.logger == nil {
		t.logger = logging.NopLogger()
	}
	return t
}

// SocketPath returns the socket file used for channel. Channel names are
// hashed because socket paths are limited to ~104 bytes.
func (t *Transport) SocketPath(channel string) string {
	sum := sha256.Sum256([]byte(channel))
	return filepath.Join(t.dir, hex.EncodeToString(sum[:8])+".sock")
}

// OpenPublisher returns a publisher that dials lazily on first Publish.
func (t *Transport) OpenPublisher(ctx context.Context, channel string) (transport.Publisher, error) {
	return &publisher{
		path:        t.SocketPath(channel),
		connectWait: t.connectWait,
		logger:      t.logger.WithChannel(channel),
	}, nil
}

// OpenSubscriber listens on the channel's socket and serves publishers until
// Close. Any socket file left by a previous owner that exited is removed
// first; callers must hold the instance lock so that file cannot belong to a
// live listener.
func (t *Transport) OpenSubscriber(ctx context.Context, channel string, h transport.Handler) (transport.Subscriber, error) {
	if err := os.MkdirAll(t.dir, 0o700); err != nil {
		return nil, fmt.Errorf("socket: create directory: %w", err)
	}

	path := t.SocketPath(channel)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("socket: remove stale socket: %w", err)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("socket: listen: %w", err)
	}

	s := &subscriber{
		ln:      ln,
		path:    path,
		handler: h,
		logger:  t.logger.WithChannel(channel),
		conns:   make(map[net.Conn]struct{}),
		stopCh:  make(chan struct{}),
	}
	s.wg.Go(s.acceptLoop)

	s.logger.Debug("socket subscriber listening", "path", path)
	return s, nil
}

// -----------------------------------------------------------------------------
// Subscriber
// -----------------------------------------------------------------------------

type subscriber struct {
	ln      net.Listener
	path    string
	handler transport.Handler
	logger  *logging.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool

	stopCh  chan struct{}
	wg      sync.WaitGroup // accept loop
	readers conc.WaitGroup // one per connection; handlers are not tracked
}

func (s *subscriber) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.logger.Warn("socket accept failed", "error", err.Error())
			// Avoid spinning on a persistent accept error.
			select {
			case <-s.stopCh:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.readers.Go(func() { s.serve(conn) })
	}
}

func (s *subscriber) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *subscriber) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// serve reads frames from one publisher and queues them for that
// connection's dispatcher. Frames from one connection reach the handler in
// order; different connections are handled concurrently.
func (s *subscriber) serve(conn net.Conn) {
	inbox := make(chan []byte, inboxSize)
	go s.dispatchAll(inbox)

	defer func() {
		close(inbox)
		s.untrack(conn)
		_ = conn.Close()
	}()

	r := msgio.NewReaderSize(conn, MaxFrameSize)
	for {
		msg, err := r.ReadMsg()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("socket read failed", "error", err.Error())
			}
			return
		}
		payload := make([]byte, len(msg))
		copy(payload, msg)
		r.ReleaseMsg(msg)

		if _, err := conn.Write([]byte{ack}); err != nil {
			s.logger.Warn("socket ack failed", "error", err.Error())
			return
		}

		select {
		case inbox <- payload:
		case <-s.stopCh:
			return
		}
	}
}

// dispatchAll hands queued payloads to the handler until inbox is closed.
func (s *subscriber) dispatchAll(inbox <-chan []byte) {
	for payload := range inbox {
		s.dispatch(payload)
	}
}

func (s *subscriber) dispatch(payload []byte) {
	var pc panics.Catcher
	pc.Try(func() { s.handler(payload) })
	if r := pc.Recovered(); r != nil {
		s.logger.Error("socket handler panicked", "panic", fmt.Sprint(r.Value), "stack", string(r.Stack))
	}
}

// Close stops accepting, drops open publisher connections and waits for their
// readers to exit. It does not wait for handlers, so a handler may close its
// own subscriber.
func (s *subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopCh)
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	err := s.ln.Close()
	s.wg.Wait()
	if r := s.readers.WaitAndRecover(); r != nil {
		s.logger.Error("socket reader panicked", "panic", r.String())
	}
	return err
}

// -----------------------------------------------------------------------------
// Publisher
// -----------------------------------------------------------------------------

type publisher struct {
	path        string
	connectWait time.Duration
	logger      *logging.Logger

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// Publish dials the subscriber if needed, writes one frame and waits for the
// acknowledgement. ctx bounds the whole operation.
func (p *publisher) Publish(ctx context.Context, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return transport.ErrClosed
	}

	if p.conn == nil {
		conn, err := p.dial(ctx)
		if err != nil {
			return err
		}
		p.conn = conn
	}
	conn := p.conn

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := msgio.NewWriter(conn).WriteMsg(payload); err != nil {
		return p.fail(ctx, fmt.Errorf("socket: write: %w", err))
	}

	var reply [1]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return p.fail(ctx, fmt.Errorf("socket: read ack: %w", err))
	}
	if reply[0] != ack {
		return p.fail(ctx, fmt.Errorf("socket: unexpected ack byte 0x%02x", reply[0]))
	}

	p.logger.Debug("socket payload delivered", "bytes", len(payload))
	return nil
}

// fail drops the connection after an I/O error and prefers the context's
// error when the context caused it.
func (p *publisher) fail(ctx context.Context, err error) error {
	_ = p.conn.Close()
	p.conn = nil
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

// dial connects to the subscriber, retrying while the socket is not yet
// accepting connections, for at most connectWait or until ctx is done.
func (p *publisher) dial(ctx context.Context) (net.Conn, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.connectWait)
	defer cancel()

	var d net.Dialer
	for {
		conn, err := d.DialContext(waitCtx, "unix", p.path)
		if err == nil {
			return conn, nil
		}

		select {
		case <-waitCtx.Done():
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("socket: dial: %w: %w", ctxErr, err)
			}
			return nil, fmt.Errorf("socket: dial %s: no listener after %s: %w", p.path, p.connectWait, err)
		case <-time.After(dialInterval):
		}
	}
}

// Close releases the connection. Safe to call multiple times.
func (p *publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
