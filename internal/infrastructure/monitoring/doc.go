// Package monitoring provides Prometheus metrics for the terminal
// lifecycle: provisioning outcomes, callback ingestion, reclamation sweeps,
// and the HTTP surface. Collectors are registered on a dedicated registry so
// tests can create metrics without global registration conflicts.
package monitoring
