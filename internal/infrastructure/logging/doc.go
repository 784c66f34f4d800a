// Package logging provides structured logging built on zap.
//
// Production output is JSON; development output is colorized console.
// All components receive a *Logger via dependency injection rather than
// relying on a process-wide singleton.
package logging
