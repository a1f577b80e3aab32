// Package provider defines the port to the external synthesis vendor:
// submitting avatar, voice, and video jobs and querying their state. The
// HTTP client targets the Akool-style open API but the orchestrator only
// depends on the JobProvider interface.
package provider
