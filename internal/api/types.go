package api

import (
	"time"

	"doppel/internal/process"
)

// DaemonStatus reports runtime information about the daemon.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"database_path"`
	LockFilePath string         `json:"lock_file_path"`
	StatusCounts map[string]int `json:"status_counts"`
}

// Process is the wire form of one workflow record.
type Process struct {
	ID          string    `json:"id"`
	OwnerID     int64     `json:"owner_id"`
	Status      string    `json:"status"`
	Quality     string    `json:"quality"`
	Orientation string    `json:"orientation"`
	AvatarID    string    `json:"avatar_id,omitempty"`
	VoiceID     string    `json:"voice_id,omitempty"`
	VideoID     string    `json:"video_id,omitempty"`
	VideoURL    string    `json:"video_url,omitempty"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateProcessRequest starts a new digital twin workflow.
type CreateProcessRequest struct {
	OwnerID     int64  `json:"owner_id"`
	PhotoRef    string `json:"photo_ref"`
	AudioRef    string `json:"audio_ref"`
	Script      string `json:"script"`
	Quality     string `json:"quality,omitempty"`
	Orientation string `json:"orientation,omitempty"`
}

// ErrorResponse is the body of every non-2xx API answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromRecord converts a stored record into its wire form.
func FromRecord(rec *process.Record) Process {
	return Process{
		ID:          rec.ID,
		OwnerID:     rec.OwnerID,
		Status:      string(rec.Status),
		Quality:     rec.Quality,
		Orientation: rec.Orientation,
		AvatarID:    rec.AvatarID,
		VoiceID:     rec.VoiceID,
		VideoID:     rec.VideoID,
		VideoURL:    rec.VideoURL,
		RetryCount:  rec.RetryCount,
		MaxRetries:  rec.MaxRetries,
		LastError:   rec.LastError,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// FromRecords converts a record slice, keeping order.
func FromRecords(records []*process.Record) []Process {
	out := make([]Process, len(records))
	for i, rec := range records {
		out[i] = FromRecord(rec)
	}
	return out
}
