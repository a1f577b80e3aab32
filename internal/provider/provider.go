package provider

import (
	"context"
	"time"

	"doppel/internal/process"
)

// JobState is the coarse lifecycle of a provider-side job.
type JobState string

const (
	StateQueued     JobState = "queued"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateUnknown    JobState = "unknown"
)

// Vendor job status codes: 1 queued, 2 processing, 3 completed, 4 failed.
func stateFromCode(code int) JobState {
	switch code {
	case 1:
		return StateQueued
	case 2:
		return StateProcessing
	case 3:
		return StateCompleted
	case 4:
		return StateFailed
	default:
		return StateUnknown
	}
}

// JobStatus is a point-in-time snapshot of a provider job.
type JobStatus struct {
	State       JobState
	ArtifactID  string
	ArtifactURL string
	Detail      string
}

// SubmitRequest carries everything a stage submission may need. The
// CallbackID is the process id; the provider echoes it in webhook events
// so completions can be correlated.
type SubmitRequest struct {
	CallbackID  string
	Stage       process.Stage
	PhotoRef    string
	AudioRef    string
	Script      string
	Quality     string
	Orientation string
	AvatarID    string
	VoiceID     string
	Duration    time.Duration
}

// JobProvider submits long-running synthesis jobs and answers status
// queries. Submit returns the provider job id used for polling.
type JobProvider interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	QueryStatus(ctx context.Context, stage process.Stage, jobID string) (JobStatus, error)
}
