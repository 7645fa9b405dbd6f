// Package market talks to the marketplace and discourse gateway and captures
// the bounded, per-round view of market state that agents reason about.
package market
