// Package export receives the per-round event stream of a simulation
// (snapshots, executed actions, transactions and discourse) and fans it out to
// an in-memory recorder, message brokers and live websocket subscribers.
//
// Sinks are fire-and-forget: they never return errors to the round loop and
// must be safe for concurrent use.
package export
