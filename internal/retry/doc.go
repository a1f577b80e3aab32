// Package retry provides a bounded exponential backoff policy for
// provider calls. The policy only sequences attempts; surfacing retry
// notices to users is the caller's concern, observed via OnRetry.
package retry
