// Package telemetry provides logging, tracing and metrics for installer runs.
//
// Every component receives a Logger through its constructor. The zerolog
// backed implementation renders human readable console output (with a
// dedicated success label) or JSON lines. Install phases and unit
// operations are traced with OpenTelemetry, and run outcomes are counted
// with Prometheus collectors that are written to a textfile when the run
// ends. Progress events (run and unit started/completed) go through an
// EventPublisher that delivers them synchronously, in order.
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	log := tel.Logger.NewComponentLogger("installer")
//	log.Success("core installed")
package telemetry
