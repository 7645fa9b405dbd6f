// Package agent models a simulated market participant: its personality,
// bounded memory, prompt construction and the decision payload it returns.
package agent
