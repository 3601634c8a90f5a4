// Package logging provides structured logging for assessd.
//
// Logger wraps Zap with:
//   - Context field injection (trace_id, run.id, requester.id, request.id)
//   - Dual output (stdout + OpenTelemetry logs via otelzap)
//   - Secret redaction for api keys and bearer tokens
//   - Level-aware sampling (errors never sampled)
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, artifact.RunID)
//	logger.Info(ctx, "run finalized", zap.String("status", "approved"))
//
// Tests use NewTestLogger and its Assert helpers.
package logging
