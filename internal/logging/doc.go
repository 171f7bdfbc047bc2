// Package logging provides structured logging for the debate orchestrator.
//
// This package wraps Go's log/slog to write JSON lines to a size-rotated
// debug.log. Stdout belongs to the CLI, so logs never go there.
//
// # Thread Safety
//
// [Logger] and [RotatingWriter] are safe for concurrent use. Child loggers
// created via the With* methods share the parent's writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(dir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	taskLog := logger.WithTask("fix-login").WithRound(2)
//	taskLog.WithAgent("gemini").Info("analysis completed", "duration_ms", 1500)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"analysis completed","task":"fix-login","round":2,"agent":"gemini","duration_ms":1500}
//
// # Testing
//
// Use [NopLogger] when a component needs a logger but its output is irrelevant.
package logging
