package singleinstance

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/Iron-Ham/singleinstance/internal/args"
	"github.com/Iron-Ham/singleinstance/internal/config"
	"github.com/Iron-Ham/singleinstance/internal/errors"
	"github.com/Iron-Ham/singleinstance/internal/logging"
	"github.com/Iron-Ham/singleinstance/internal/testutil"
)

func TestNewFromConfig_Invalid(t *testing.T) {
	cfg := config.Default()
	cfg.Transport = "carrier-pigeon"
	cfg.PublishTimeout = 0

	c, err := NewFromConfig(cfg)
	if c != nil {
		t.Error("NewFromConfig() returned a coordinator for an invalid config")
	}
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("NewFromConfig() error = %v, want ErrInvalidInput", err)
	}
	var verrs config.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) != 2 {
		t.Errorf("NewFromConfig() error = %v, want 2 validation errors", err)
	}
}

func TestNewFromConfig_Mailbox(t *testing.T) {
	cfg := config.Default()
	cfg.Transport = config.TransportMailbox
	cfg.RuntimeDir = t.TempDir()
	cfg.Logging.Level = "error"

	first, err := NewFromConfig(cfg, WithUserName("alice"))
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	defer first.Cleanup()

	second, err := NewFromConfig(cfg, WithUserName("alice"),
		WithArgSource(args.Fixed("app", "--from-config")))
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	defer second.Cleanup()

	target := newRecorder()
	if ok, err := first.InitializeContext(context.Background(), target, "MyApp"); !ok || err != nil {
		t.Fatalf("first InitializeContext() = %v, %v", ok, err)
	}
	if ok, err := second.InitializeContext(context.Background(), newRecorder(), "MyApp"); ok || err != nil {
		t.Fatalf("second InitializeContext() = %v, %v", ok, err)
	}

	if got := target.next(t); !slices.Equal(got, []string{"app", "--from-config"}) {
		t.Errorf("received %q", got)
	}
	if _, err := os.Stat(MailboxDir(cfg.RuntimeDir)); err != nil {
		t.Errorf("mailbox spool root missing: %v", err)
	}
}

func TestNewFromConfig_LogFile(t *testing.T) {
	cfg := config.Default()
	cfg.RuntimeDir = testutil.ShortTempDir(t)
	cfg.Logging.Dir = t.TempDir()
	cfg.Logging.Level = "debug"
	cfg.PublishTimeout = 3 * time.Second

	c, err := NewFromConfig(cfg, WithUserName("alice"))
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	t.Cleanup(func() { _ = c.logger.Close() })
	if c.publishTimeout != 3*time.Second {
		t.Errorf("publishTimeout = %s, want 3s", c.publishTimeout)
	}
	if c.lockDir != cfg.RuntimeDir {
		t.Errorf("lockDir = %q, want %q", c.lockDir, cfg.RuntimeDir)
	}

	if ok, err := c.InitializeContext(context.Background(), newRecorder(), "MyApp"); !ok || err != nil {
		t.Fatalf("InitializeContext() = %v, %v", ok, err)
	}
	c.Cleanup()

	info, err := os.Stat(filepath.Join(cfg.Logging.Dir, logging.LogFileName))
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("log file is empty, want lock and listen entries")
	}
}
