// Package telemetry sets up OpenTelemetry tracing and metrics export.
//
// When enabled, spans from the store and publish packages and the HTTP
// request metrics are exported over OTLP (gRPC or HTTP/protobuf). When
// disabled the global no-op providers stay in place and instrumentation
// costs nothing.
//
// Example:
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, version, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Tests use NewTestTelemetry, which records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry(t)
//	// ... exercise code ...
//	tt.AssertSpanExists(t, "store.Save")
package telemetry
