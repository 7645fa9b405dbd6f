// Package sim drives a population of agents through synchronized rounds.
//
// Each round captures one market snapshot, asks the decision backend for one
// decision per agent in sequential batches, and executes the resulting
// actions one at a time against the marketplace gateway. Every observable
// outcome is reported to an export.Sink.
package sim
