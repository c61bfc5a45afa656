// Package logging provides structured logging for the dispatch engine.
//
// The package wraps Go's log/slog to produce JSON-formatted logs with
// context propagation, so engine activity can be filtered and analyzed
// after the fact. Workflows tag every line with the instance they are
// acting on; the workflow kind and the provisioning step in flight are
// carried the same way.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (instance ID, workflow, step)
//   - Size-based log rotation with optional gzip compression
//   - Reading logs back with filtering and export to JSON, text, or CSV
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. [Logger] relies
// on slog's concurrency guarantees, and [RotatingWriter] serializes file
// operations with a mutex. Child loggers created via With* methods share
// the underlying writer safely.
//
// # Basic Usage
//
// Create a logger writing to {logDir}/dispatch.log:
//
//	logger, err := logging.NewLogger(logDir, "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("worktree created", "branch", branch)
//	logger.Error("session launch failed", "error", err.Error())
//
// # Context Propagation
//
// Child loggers carry persistent attributes:
//
//	wf := logger.WithWorkflow("coding").WithInstance(inst.ID)
//	wf.WithStep("worktree").Info("creating worktree", "base", baseBranch)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"creating worktree","workflow":"coding","instance_id":"work-123-...","step":"worktree","base":"main"}
//
// # Log Rotation
//
// Long-lived engines should rotate the log file:
//
//	logger, err := logging.NewLoggerWithRotation(logDir, "INFO", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	    Compress:   true,
//	})
//
// Rotated files sit next to the live file as dispatch.log.1 (newest)
// through dispatch.log.N, with a .gz suffix when compression is on.
//
// # Reading Logs Back
//
// The logs command uses [ReadLogFile], [FilterLogs], and
// [WriteLogEntries] to query past activity:
//
//	entries, err := logging.ReadLogFile(path)
//	if err != nil {
//	    return err
//	}
//	filtered := logging.FilterLogs(entries, logging.LogFilter{
//	    Level:      "WARN",
//	    InstanceID: "work-123-1755708000-a1b2c3d4",
//	})
//	if err := logging.WriteLogEntries(os.Stdout, filtered, "text"); err != nil {
//	    return err
//	}
//
// # Testing
//
// [NopLogger] returns a Logger that discards everything, for tests and
// for callers that run with logging disabled.
package logging
