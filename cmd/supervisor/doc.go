// Command supervisor runs inside a provisioned unit, launching the terminal
// service and tunnel client and reporting lifecycle events back to the
// orchestrator.
package main
