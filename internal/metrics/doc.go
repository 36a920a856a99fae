// Package metrics exposes Prometheus instrumentation for recording sessions,
// signal analysis, capture devices and the HTTP control API.
package metrics
