// Package llm defines the decision backend contract used by the simulation
// round loop and the response extractor that pulls a JSON decision payload out
// of free-form generated text. Provider adapters live in sub-packages.
package llm
