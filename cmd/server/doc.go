// Command server runs the terminal provisioning orchestrator.
package main
