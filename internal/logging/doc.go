// Package logging provides structured logging for termctl.
//
// This package wraps Go's log/slog to emit JSON lines with persistent
// context attributes, so that the activity of many concurrent sessions can
// be separated after the fact.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer. [RotatingWriter]
// serializes writes and rotation with a mutex.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(logging.Options{
//	    Level:    "INFO",
//	    File:     "/var/log/termctl.log",
//	    Rotation: logging.DefaultRotationConfig(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	sessLog := logger.WithSession(id).WithComponent("window")
//	sessLog.Info("window resolved", "strategy", "pid", "window_id", wid)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"window resolved","session_id":"...","component":"window","strategy":"pid","window_id":"4194305"}
//
// # Rotation
//
// When a file is configured, [RotatingWriter] rotates it once it would
// exceed RotationConfig.MaxSizeMB. Rotated files are named path.1 (newest)
// through path.N and are gzipped in the background when Compress is set.
package logging
