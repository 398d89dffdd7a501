// Package logging provides structured logging for wamux.
//
// It wraps Go's log/slog with a small [Logger] type that carries persistent
// attributes (session identity, event category) into every record, writes
// JSON or text, and optionally rotates its output file.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer. [RotatingWriter]
// serializes writes and rotation under a mutex.
//
// # Basic Usage
//
//	logger, err := logging.New(logging.Options{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithSession("alice").Info("session ready")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"session ready","session_id":"alice"}
//
// # File Output
//
// Setting Options.File writes to that path through a [RotatingWriter]:
//
//	logger, err := logging.New(logging.Options{
//	    Level:    "debug",
//	    File:     "/var/log/wamux/wamux.log",
//	    Rotation: logging.RotationConfig{MaxSizeMB: 50, MaxBackups: 5, Compress: true},
//	})
//
// Backups are numbered wamux.log.1 (newest) through wamux.log.N and are
// gzip-compressed in the background when Compress is set.
//
// # Leveled Logger Interop
//
// Logger's Debug/Info/Warn/Error methods take a message and alternating
// key-value pairs, so it can be handed to libraries expecting that shape
// (for example go-retryablehttp's LeveledLogger).
package logging
