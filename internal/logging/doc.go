// Package logging provides structured logging for single-instance coordination.
//
// This package wraps Go's log/slog to produce JSON-formatted logs carrying the
// application identifier, channel name and instance role, so that the log
// lines of a first instance and the secondary instances that signaled it can
// be correlated after the fact.
//
// # Thread Safety
//
// [Logger] is safe for concurrent use. Receive callbacks run on transport
// goroutines and may log at the same time as the host's main goroutine.
// Child loggers created via With* methods share the underlying writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/logdir", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithIdentifier("MyAppalice").WithRole("first").Info("listening")
//
// When the directory is empty, logs go to stderr. [NopLogger] discards
// everything and is the default for library callers that pass no logger.
package logging
