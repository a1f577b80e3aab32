package process

import (
	"math"
	"strings"
	"time"
)

// Status represents the lifecycle of a process record. Statuses form a
// total forward order; failed is terminal and reachable from any
// processing status.
type Status string

const (
	StatusAvatarProcessing Status = "avatar_processing"
	StatusAvatarDone       Status = "avatar_done"
	StatusVoiceProcessing  Status = "voice_processing"
	StatusVoiceDone        Status = "voice_done"
	StatusVideoProcessing  Status = "video_processing"
	StatusVideoDone        Status = "video_done"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

var allStatuses = []Status{
	StatusAvatarProcessing,
	StatusAvatarDone,
	StatusVoiceProcessing,
	StatusVoiceDone,
	StatusVideoProcessing,
	StatusVideoDone,
	StatusCompleted,
	StatusFailed,
}

var statusRank = func() map[Status]int {
	ranks := make(map[Status]int, len(allStatuses))
	for i, status := range allStatuses {
		ranks[status] = i
	}
	return ranks
}()

var processingStatuses = map[Status]struct{}{
	StatusAvatarProcessing: {},
	StatusVoiceProcessing:  {},
	StatusVideoProcessing:  {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusRank[normalized]
	return normalized, ok
}

// IsTerminal reports whether the status ends the workflow.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsProcessing reports whether the status reflects an in-flight provider job.
func (s Status) IsProcessing() bool {
	_, ok := processingStatuses[s]
	return ok
}

// CanTransition reports whether moving from one status to another respects
// the forward order. Failure is allowed from any non-terminal status.
func CanTransition(from, to Status) bool {
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	if !okFrom || !okTo {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return toRank == fromRank+1
}

// Stage identifies one of the three provider jobs in the pipeline.
type Stage string

const (
	StageAvatar Stage = "avatar"
	StageVoice  Stage = "voice"
	StageVideo  Stage = "video"
)

// FirstStage is where every new process starts.
const FirstStage = StageAvatar

var allStages = []Stage{StageAvatar, StageVoice, StageVideo}

// AllStages returns the ordered pipeline stages.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case StageAvatar, StageVoice, StageVideo:
		return normalized, true
	}
	return "", false
}

// Processing returns the in-flight status for the stage.
func (s Stage) Processing() Status {
	switch s {
	case StageAvatar:
		return StatusAvatarProcessing
	case StageVoice:
		return StatusVoiceProcessing
	default:
		return StatusVideoProcessing
	}
}

// Done returns the completion status for the stage.
func (s Stage) Done() Status {
	switch s {
	case StageAvatar:
		return StatusAvatarDone
	case StageVoice:
		return StatusVoiceDone
	default:
		return StatusVideoDone
	}
}

// Next returns the stage that follows, or false for the last stage.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageAvatar:
		return StageVoice, true
	case StageVoice:
		return StageVideo, true
	default:
		return "", false
	}
}

// StageForStatus maps an in-flight status back to its stage.
func StageForStatus(status Status) (Stage, bool) {
	switch status {
	case StatusAvatarProcessing:
		return StageAvatar, true
	case StatusVoiceProcessing:
		return StageVoice, true
	case StatusVideoProcessing:
		return StageVideo, true
	}
	return "", false
}

// Record represents a digital twin creation process persisted in SQLite.
// The record id doubles as the webhook correlation key handed to the
// provider on every submission.
type Record struct {
	ID                string
	OwnerID           int64
	Status            Status
	PhotoRef          string
	AudioRef          string
	Script            string
	Quality           string
	Orientation       string
	AvatarID          string
	VoiceID           string
	VideoID           string
	VideoURL          string
	RetryCount        int
	MaxRetries        int
	LastError         string
	ProgressMessageID int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsTerminal reports whether the record has finished, successfully or not.
func (r *Record) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// ArtifactID returns the stored provider artifact for a stage.
func (r *Record) ArtifactID(stage Stage) string {
	switch stage {
	case StageAvatar:
		return r.AvatarID
	case StageVoice:
		return r.VoiceID
	default:
		return r.VideoID
	}
}

// SetArtifact stores the provider artifact for a stage. Artifacts are
// written once, by the accepted completion event for that stage.
func (r *Record) SetArtifact(stage Stage, id string) {
	switch stage {
	case StageAvatar:
		r.AvatarID = id
	case StageVoice:
		r.VoiceID = id
	case StageVideo:
		r.VideoID = id
	}
}

// EstimateDuration derives the target video length from script word count.
// Speech is paced near 2.5 words per second with a pause buffer on top,
// clamped to the provider's accepted range.
func EstimateDuration(script string) time.Duration {
	words := len(strings.Fields(script))
	seconds := math.Ceil(float64(words)/2.5) * 1.25
	if seconds < 15 {
		seconds = 15
	}
	if seconds > 60 {
		seconds = 60
	}
	return time.Duration(seconds * float64(time.Second))
}
