// Package webhook receives provider callback events: it authenticates the
// delivery signature, decrypts the payload, journals every delivery for
// exactly-once dispatch, and forwards stage outcomes to the orchestrator.
package webhook
