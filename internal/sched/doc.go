// Package sched implements the task scheduling and resource-allocation engine.
//
// The engine owns a five-partition task queue (pending, processing, completed,
// failed, cancelled), a registry of devices and accounts with live capacity
// state, and three periodic loops: the scheduling tick, the deadline monitor,
// and the retention sweeper.
//
// Concurrency model
//
// All queue and registry state is owned by a single goroutine (the actor).
// Public operations and the periodic loops never touch that state directly;
// they run as closures delivered over the actor's mailbox channel. Calls to
// the external ExecutionEngine (batch dispatch, cancellation) happen off the
// actor so a slow engine can never stall scheduling; their outcomes re-enter
// through the mailbox.
//
// Lifecycle
//
// New builds the engine; Start/Stop are idempotent and may be cycled. Queue
// and registry contents survive a Stop/Start cycle; tasks caught mid-dispatch
// by a stop are treated like a timed-out dispatch on the next Start (failed,
// retry-eligible).
package sched
