// Package orchestrator drives the digital twin workflow. It owns status
// transitions, stage submissions, retry bookkeeping, and the user-facing
// outcome notifications. Stage completions and failures arrive from the
// webhook layer; the orchestrator serializes all mutations of one process
// behind a per-process lock.
package orchestrator
