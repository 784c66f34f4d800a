// Package terminal implements the terminal lifecycle core: the record and
// its legal state transitions, the manager orchestrating provisioning and
// deletion, callback ingestion from in-unit supervisors, and the periodic
// reclamation sweeper.
//
// Three actor classes race on the same record: the HTTP request path
// (create/delete), supervisors calling back, and the sweeper. Every state
// change goes through the store's Mutate primitive, which applies the
// mutation atomically per record; a transition whose precondition no longer
// holds returns ErrConflict and the losing actor treats it as a no-op.
package terminal
