// Package metrics defines the Prometheus collectors exported by the voice relay service.
package metrics
