// Package rules holds the pure evaluation logic of the engine: wildcard
// condition sets, ordered first-match rule selection, escalation matching,
// SLA deadline arithmetic and least-loaded member selection.
//
// Every function here is a function of its arguments only. Callers pass in a
// snapshot of the rule set they loaded; nothing reads global state.
package rules
