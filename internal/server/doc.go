// Package server wires the orchestrator together: store, platform adapter,
// lifecycle manager, reclamation sweeper, and the gin transport with its
// middleware stack. Shutdown stops the sweeper, drains in-flight
// provisioning, and closes the store.
package server
