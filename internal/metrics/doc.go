// Package metrics provides the observability hooks for build execution.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no call site needs a nil check:
//
//	exec := build.NewExecutor(st, pub, run, build.WithRecorder(metrics.NewPrometheusRecorder(reg)))
//
// PrometheusRecorder registers its collectors on the given registry, which the
// daemon exposes through HTTPHandler on the configured metrics path.
package metrics
