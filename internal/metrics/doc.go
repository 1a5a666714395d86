// Package metrics defines the Prometheus instruments exported by the relay and workers.
package metrics
