// Package log provides structured logging for the swarm built on zerolog.
//
// Call Init once at process start with the level parsed from CLI flags
// (JSON output is a Config option with no flag of its own), then derive component loggers with WithComponent (and the
// client/colony/hatchling variants) so every log line can be filtered and
// correlated without repeating fields at each call site.
package log
