// Package supervisor runs inside a provisioned unit. It launches the
// interactive service and the tunnel client, verifies readiness within a
// bounded budget, reports the public URL back to the orchestrator, and then
// watches both processes: a dead service is fatal, a dead tunnel is relaunched
// with the (possibly new) URL re-reported. An idle monitor retires the unit
// when nobody has used it for the configured budget.
package supervisor
