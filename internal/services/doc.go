// Package services defines the shared error taxonomy for pipeline
// operations. Errors are tagged with sentinel markers so the retry policy
// can classify them and the orchestrator can derive user-facing failure
// messages.
package services
