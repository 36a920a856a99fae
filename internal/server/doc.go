// Package server exposes the recorder over a local HTTP control API:
// triggering auto and manual recordings, inspecting the active session,
// health, configuration and Prometheus metrics.
package server
