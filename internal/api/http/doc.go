// Package http exposes the orchestrator over REST: the public terminal
// CRUD surface and the internal callback endpoints units report to.
package http
