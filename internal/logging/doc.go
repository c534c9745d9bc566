// Package logging provides structured logging for the kuda server.
//
// # Overview
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - JSON or console output to a configurable writer
//   - Automatic context field injection (trace_id, request.id)
//   - A quiet mode that discards everything (the -q flag)
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx, _ = logging.WithRequestID(ctx, "5f0c1a2e-...")
//	logger.Info(ctx, "project saved", zap.String("project", "demo"))
//
// # Testing
//
// NewTestLogger records every entry for assertions:
//
//	tl := logging.NewTestLogger()
//	svc := store.New(dir, tl.Logger)
//	tl.AssertLogged(t, zapcore.InfoLevel, "project saved")
package logging
