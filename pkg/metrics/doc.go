// Package metrics exposes swarm-wide Prometheus metrics: bus call volume
// and latency by message type, colony/partition sizing, per-task request
// counts mirroring a Report's sections, and connection retry counts.
// Metrics are registered at package init and served by Handler over the
// admin listener both the overmind and colony processes expose alongside
// their regular bus traffic. HealthHandler/ReadyHandler/LivenessHandler
// ride the same listener.
package metrics
