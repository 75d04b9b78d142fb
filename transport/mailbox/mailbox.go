// Package mailbox implements the notification channel as a watched spool
// directory. It suits environments where Unix domain sockets are unavailable
// or undesirable, such as shared network home directories on some systems.
//
// # Layout
//
//	<dir>/<hash(channel)>/
//	    <uuid>.tmp  -- being written by a publisher
//	    <uuid>.msg  -- complete, waiting for the subscriber
//
// A publisher writes the payload to a .tmp file and renames it to .msg, so
// the subscriber never observes a partial payload. The subscriber watches the
// directory with fsnotify, reads each new .msg file, removes it and invokes
// the handler.
//
// When a subscriber opens, .msg files younger than StaleAfter are delivered:
// they were written by a secondary instance that started while the first
// instance was still setting up. Older files are removed unread.
package mailbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/Iron-Ham/singleinstance/internal/logging"
	"github.com/Iron-Ham/singleinstance/transport"
)

const (
	msgExt = ".msg"
	tmpExt = ".tmp"

	// DefaultStaleAfter is the age past which spooled messages are discarded
	// when a subscriber opens.
	DefaultStaleAfter = 10 * time.Second

	// rescanInterval is the fallback sweep in case a filesystem event is lost.
	rescanInterval = time.Second
)

// Options configures a Transport.
type Options struct {
	// Dir is the spool root. Required.
	Dir string
	// StaleAfter is described in the package doc. Zero means DefaultStaleAfter.
	StaleAfter time.Duration
	// Logger is optional.
	Logger *logging.Logger
}

// Transport opens spool-directory channels.
type Transport struct {
	dir        string
	staleAfter time.Duration
	logger     *logging.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New creates a mailbox Transport.
func New(opts Options) *Transport {
	t := &Transport{
		dir:        opts.Dir,
		staleAfter: opts.StaleAfter,
		logger:     opts.Logger,
	}
	if t.staleAfter <= 0 {
		t.staleAfter = DefaultStaleAfter
	}
	if t.logger == nil {
		t.logger = logging.NopLogger()
	}
	return t
}

// ChannelDir returns the spool directory for channel.
func (t *Transport) ChannelDir(channel string) string {
	sum := sha256.Sum256([]byte(channel))
	return filepath.Join(t.dir, hex.EncodeToString(sum[:8]))
}

// OpenPublisher ensures the channel directory exists and returns a publisher.
func (t *Transport) OpenPublisher(ctx context.Context, channel string) (transport.Publisher, error) {
	dir := t.ChannelDir(channel)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mailbox: create directory: %w", err)
	}
	return &publisher{dir: dir}, nil
}

// OpenSubscriber starts watching the channel directory.
func (t *Transport) OpenSubscriber(ctx context.Context, channel string, h transport.Handler) (transport.Subscriber, error) {
	dir := t.ChannelDir(channel)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mailbox: create directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("mailbox: create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("mailbox: watch %s: %w", dir, err)
	}

	s := &subscriber{
		dir:      dir,
		watcher:  watcher,
		handler:  h,
		logger:   t.logger.WithChannel(channel),
		stopCh:   make(chan struct{}),
		inFlight: make(map[string]struct{}),
	}

	// The watch is registered before the sweep, so a file created in
	// between is seen by at least one of them; claim() dedupes.
	s.sweep(time.Now().Add(-t.staleAfter))

	s.wg.Go(s.watchLoop)
	s.logger.Debug("mailbox subscriber watching", "dir", dir)
	return s, nil
}

// -----------------------------------------------------------------------------
// Subscriber
// -----------------------------------------------------------------------------

type subscriber struct {
	dir     string
	watcher *fsnotify.Watcher
	handler transport.Handler
	logger  *logging.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup // watch loop only
}

// watchLoop processes filesystem events until Close.
func (s *subscriber) watchLoop() {
	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			// Publishers rename into place, which surfaces as Create.
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if filepath.Ext(event.Name) != msgExt {
				continue
			}
			s.deliver(event.Name)

		case <-ticker.C:
			s.sweep(time.Time{})

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("mailbox watcher error", "error", err.Error())
		}
	}
}

// sweep delivers every pending .msg file modified after cutoff and removes
// older ones. A zero cutoff delivers everything.
func (s *subscriber) sweep(cutoff time.Time) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("mailbox sweep failed", "error", err.Error())
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != msgExt {
			continue
		}
		path := filepath.Join(s.dir, name)

		if !cutoff.IsZero() {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				_ = os.Remove(path)
				s.logger.Debug("mailbox discarded stale message", "file", name)
				continue
			}
		}
		s.deliver(path)
	}
}

// claim marks path as being delivered; false if another delivery owns it.
func (s *subscriber) claim(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[path]; ok {
		return false
	}
	s.inFlight[path] = struct{}{}
	return true
}

func (s *subscriber) release(path string) {
	s.mu.Lock()
	delete(s.inFlight, path)
	s.mu.Unlock()
}

// deliver reads and removes one message file, then hands it to the handler
// on its own goroutine.
func (s *subscriber) deliver(path string) {
	if !s.claim(path) {
		return
	}
	defer s.release(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("mailbox read failed", "file", filepath.Base(path), "error", err.Error())
		}
		return
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Another subscriber took it.
			return
		}
		s.logger.Warn("mailbox remove failed", "file", filepath.Base(path), "error", err.Error())
	}

	go s.dispatch(data)
}

func (s *subscriber) dispatch(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("mailbox handler panicked", "panic", fmt.Sprint(r))
		}
	}()
	s.handler(payload)
}

// Close stops watching. Safe to call multiple times. Handlers already running
// are not waited for.
func (s *subscriber) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		err = s.watcher.Close()
		s.wg.Wait()
	})
	return err
}

// -----------------------------------------------------------------------------
// Publisher
// -----------------------------------------------------------------------------

type publisher struct {
	dir string

	mu     sync.Mutex
	closed bool
}

// Publish spools payload atomically. It honors ctx only before writing.
func (p *publisher) Publish(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	id := uuid.NewString()
	tmp := filepath.Join(p.dir, id+tmpExt)
	final := filepath.Join(p.dir, id+msgExt)

	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("mailbox: write: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("mailbox: commit: %w", err)
	}
	return nil
}

// Close marks the publisher closed. Safe to call multiple times.
func (p *publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Pending returns the names of undelivered messages in the channel directory.
func (t *Transport) Pending(channel string) ([]string, error) {
	entries, err := os.ReadDir(t.ChannelDir(channel))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), msgExt) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
