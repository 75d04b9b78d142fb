package singleinstance

import (
	"path/filepath"

	"github.com/Iron-Ham/singleinstance/internal/config"
	"github.com/Iron-Ham/singleinstance/internal/errors"
	"github.com/Iron-Ham/singleinstance/internal/lock"
	"github.com/Iron-Ham/singleinstance/internal/logging"
	"github.com/Iron-Ham/singleinstance/transport"
	"github.com/Iron-Ham/singleinstance/transport/mailbox"
	"github.com/Iron-Ham/singleinstance/transport/socket"
)

// NewFromConfig builds a Coordinator from cfg. opts are applied after the
// configured settings and override them.
//
// When cfg.Logging.Dir is set the log file stays open for the life of the
// process.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.NewConfigurationError("invalid configuration", config.ValidationErrors(errs))
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return nil, errors.NewConfigurationError("open log", err).
			WithField("logging.dir").
			WithValue(cfg.Logging.Dir)
	}

	dir := cfg.RuntimeDir
	if dir == "" {
		dir = lock.DefaultDir()
	}

	var tr transport.Transport
	switch cfg.Transport {
	case config.TransportMailbox:
		tr = mailbox.New(mailbox.Options{
			Dir:        MailboxDir(dir),
			StaleAfter: cfg.Mailbox.StaleAfter,
			Logger:     logger,
		})
	default:
		tr = socket.New(socket.Options{
			Dir:         dir,
			ConnectWait: cfg.ConnectWait,
			Logger:      logger,
		})
	}

	base := []Option{
		WithLockDir(dir),
		WithLogger(logger),
		WithTransport(tr),
		WithPublishTimeout(cfg.PublishTimeout),
	}
	return New(append(base, opts...)...), nil
}

// MailboxDir returns the mailbox spool root used under runtimeDir.
func MailboxDir(runtimeDir string) string {
	return filepath.Join(runtimeDir, "mailbox")
}
