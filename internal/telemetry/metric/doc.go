// Package metric provides Prometheus metrics for ingestmesh.
//
// A Registry owns a private prometheus.Registry with the Go runtime and
// process collectors plus the ingest counters: connections, verified and
// written blocks, partition outcomes, completed sessions and garbage
// collection sweeps.
//
// Every recording method is safe on a nil *Registry, so components can be
// built without metrics in tests.
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
