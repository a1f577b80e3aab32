package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"doppel/internal/config"
	"doppel/internal/logging"
	"doppel/internal/notify"
	"doppel/internal/process"
	"doppel/internal/provider"
	"doppel/internal/retry"
	"doppel/internal/services"
)

// Tracker watches in-flight provider jobs and reports progress to the
// process owner. The orchestrator starts a watch on every submission and
// cancels it when the workflow reaches a terminal state.
type Tracker interface {
	Watch(processID string, ownerID int64, stage process.Stage, jobID string)
	Cancel(processID string)
}

// Orchestrator advances processes through the avatar, voice, and video
// stages. All mutations of a single process are serialized behind a keyed
// lock; cross-instance races are still guarded by the store's compare-and-set
// transitions.
type Orchestrator struct {
	store    *process.Store
	provider provider.JobProvider
	notifier notify.Service
	tracker  Tracker
	logger   *slog.Logger
	locks    *keyedMutex

	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
}

// New builds an orchestrator. The tracker is wired separately with
// SetTracker because it depends on the orchestrator for timeout handling.
func New(cfg *config.Config, store *process.Store, jobs provider.JobProvider, notifier notify.Service, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		provider:   jobs,
		notifier:   notifier,
		logger:     logging.WithComponent(logger, "orchestrator"),
		locks:      newKeyedMutex(),
		maxRetries: cfg.Workflow.MaxRetries,
		retryBase:  time.Duration(cfg.Workflow.RetryBaseSeconds) * time.Second,
		retryMax:   time.Duration(cfg.Workflow.RetryMaxSeconds) * time.Second,
	}
}

// SetTracker attaches the progress tracker. Must be called before the first
// process is created.
func (o *Orchestrator) SetTracker(t Tracker) {
	o.tracker = t
}

// CreateRequest carries the collected inputs for a new digital twin.
type CreateRequest struct {
	OwnerID     int64
	PhotoRef    string
	AudioRef    string
	Script      string
	Quality     string
	Orientation string
}

func (r *CreateRequest) normalize() error {
	r.PhotoRef = strings.TrimSpace(r.PhotoRef)
	r.AudioRef = strings.TrimSpace(r.AudioRef)
	r.Script = strings.TrimSpace(r.Script)
	r.Quality = strings.ToLower(strings.TrimSpace(r.Quality))
	r.Orientation = strings.ToLower(strings.TrimSpace(r.Orientation))

	if r.PhotoRef == "" {
		return fmt.Errorf("%w: photo reference is required", services.ErrValidation)
	}
	if r.AudioRef == "" {
		return fmt.Errorf("%w: audio reference is required", services.ErrValidation)
	}
	if r.Script == "" {
		return fmt.Errorf("%w: script is required", services.ErrValidation)
	}
	switch r.Quality {
	case "":
		r.Quality = "720p"
	case "720p", "1080p":
	default:
		return fmt.Errorf("%w: unsupported quality %q", services.ErrValidation, r.Quality)
	}
	switch r.Orientation {
	case "":
		r.Orientation = "portrait"
	case "portrait", "landscape":
	default:
		return fmt.Errorf("%w: unsupported orientation %q", services.ErrValidation, r.Orientation)
	}
	return nil
}

// CreateProcess persists a new process and submits the first stage. The
// record is stored before the provider call so a crash mid-submission is
// observable rather than silent.
func (o *Orchestrator) CreateProcess(ctx context.Context, req CreateRequest) (*process.Record, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	rec := &process.Record{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		Status:      process.FirstStage.Processing(),
		PhotoRef:    req.PhotoRef,
		AudioRef:    req.AudioRef,
		Script:      req.Script,
		Quality:     req.Quality,
		Orientation: req.Orientation,
		MaxRetries:  o.maxRetries,
	}
	rec, err := o.store.Create(ctx, rec)
	if err != nil {
		return nil, err
	}

	o.locks.lock(rec.ID)
	defer o.locks.unlock(rec.ID)

	logger := o.recordLogger(rec)
	logger.Info("process created", logging.Args(
		logging.String(logging.FieldStage, string(process.FirstStage)))...)

	if err := o.submitStage(ctx, rec, process.FirstStage); err != nil {
		o.failLocked(ctx, rec, services.FailureReason(err))
		return rec, err
	}
	return rec, nil
}

// OnExternalCompletion handles an authenticated stage completion event.
// Events for a stage the record is no longer in are stale redeliveries and
// are dropped without effect.
func (o *Orchestrator) OnExternalCompletion(ctx context.Context, callbackID string, stage process.Stage, artifactID, artifactURL string) error {
	o.locks.lock(callbackID)
	defer o.locks.unlock(callbackID)

	rec, err := o.store.GetByID(ctx, callbackID)
	if err != nil {
		return err
	}
	if rec == nil {
		o.logger.Warn("completion for unknown process", logging.Args(
			logging.String(logging.FieldProcessID, callbackID))...)
		return nil
	}
	logger := o.recordLogger(rec)
	if rec.Status != stage.Processing() {
		logger.Info("stale completion ignored", logging.Args(
			logging.String(logging.FieldStage, string(stage)))...)
		return nil
	}

	claimed, err := o.store.Transition(ctx, rec.ID, rec.Status, stage.Done())
	if err != nil {
		return err
	}
	if !claimed {
		logger.Info("completion lost transition race", logging.Args(
			logging.String(logging.FieldStage, string(stage)))...)
		return nil
	}

	rec.Status = stage.Done()
	rec.SetArtifact(stage, artifactID)
	if stage == process.StageVideo {
		rec.VideoURL = artifactURL
	}
	rec.LastError = ""
	if err := o.store.Update(ctx, rec); err != nil {
		return err
	}
	logger.Info("stage completed", logging.Args(
		logging.String(logging.FieldStage, string(stage)))...)

	return o.advanceLocked(ctx, rec)
}

// OnExternalFailure handles an authenticated stage failure event. A
// provider-reported failure is terminal for the process: the retry budget
// covers the initiating submission, and re-running a job the provider
// already executed and rejected would not change the outcome.
func (o *Orchestrator) OnExternalFailure(ctx context.Context, callbackID string, stage process.Stage, reason string) error {
	o.locks.lock(callbackID)
	defer o.locks.unlock(callbackID)

	rec, err := o.store.GetByID(ctx, callbackID)
	if err != nil {
		return err
	}
	if rec == nil {
		o.logger.Warn("failure for unknown process", logging.Args(
			logging.String(logging.FieldProcessID, callbackID))...)
		return nil
	}
	logger := o.recordLogger(rec)
	if rec.Status != stage.Processing() {
		logger.Info("stale failure ignored", logging.Args(
			logging.String(logging.FieldStage, string(stage)))...)
		return nil
	}

	logger.Warn("stage failed", logging.Args(
		logging.String(logging.FieldStage, string(stage)),
		logging.String(logging.FieldErrorHint, reason))...)
	return o.failLocked(ctx, rec, reason)
}

// Advance moves a process sitting in a stage-done status into the next
// stage, or completes it after the final stage. Used on startup for records
// a crash left between a completion and the follow-up submission.
func (o *Orchestrator) Advance(ctx context.Context, id string) error {
	o.locks.lock(id)
	defer o.locks.unlock(id)

	rec, err := o.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("process %s not found", id)
	}
	return o.advanceLocked(ctx, rec)
}

func (o *Orchestrator) advanceLocked(ctx context.Context, rec *process.Record) error {
	var stage process.Stage
	switch rec.Status {
	case process.StatusAvatarDone:
		stage = process.StageAvatar
	case process.StatusVoiceDone:
		stage = process.StageVoice
	case process.StatusVideoDone:
		stage = process.StageVideo
	default:
		return nil
	}

	next, ok := stage.Next()
	if !ok {
		return o.completeLocked(ctx, rec)
	}

	claimed, err := o.store.Transition(ctx, rec.ID, rec.Status, next.Processing())
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	rec.Status = next.Processing()
	rec.RetryCount = 0
	rec.LastError = ""
	if err := o.store.Update(ctx, rec); err != nil {
		return err
	}

	if err := o.submitStage(ctx, rec, next); err != nil {
		failErr := o.failLocked(ctx, rec, services.FailureReason(err))
		if failErr != nil {
			return failErr
		}
		return nil
	}
	return nil
}

func (o *Orchestrator) completeLocked(ctx context.Context, rec *process.Record) error {
	claimed, err := o.store.Transition(ctx, rec.ID, rec.Status, process.StatusCompleted)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	rec.Status = process.StatusCompleted
	if o.tracker != nil {
		o.tracker.Cancel(rec.ID)
	}

	o.recordLogger(rec).Info("process completed")

	caption := fmt.Sprintf("Your digital twin video is ready. Estimated length: %d seconds.",
		int(process.EstimateDuration(rec.Script).Seconds()))
	if err := o.notifier.SendVideo(ctx, rec.OwnerID, rec.VideoURL, caption); err != nil {
		o.recordLogger(rec).Error("deliver video", logging.Args(logging.Error(err))...)
	}
	return nil
}

// FailWithTimeout marks a process failed because the provider never
// reported a terminal outcome within the polling budget.
func (o *Orchestrator) FailWithTimeout(ctx context.Context, id string) error {
	return o.fail(ctx, id, "timed out waiting for the provider to finish")
}

// FailWithReason marks a process failed with a provider-reported reason,
// used when a status poll observes the failure before any callback arrives.
func (o *Orchestrator) FailWithReason(ctx context.Context, id, reason string) error {
	return o.fail(ctx, id, reason)
}

func (o *Orchestrator) fail(ctx context.Context, id, reason string) error {
	o.locks.lock(id)
	defer o.locks.unlock(id)

	rec, err := o.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil || rec.IsTerminal() {
		return nil
	}
	return o.failLocked(ctx, rec, reason)
}

// Resume re-attaches progress watches for records that were in flight when
// the daemon last stopped, and advances records a crash left between a
// stage completion and the next submission.
func (o *Orchestrator) Resume(ctx context.Context) error {
	records, err := o.store.Active(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if stage, ok := process.StageForStatus(rec.Status); ok {
			if o.tracker != nil {
				o.tracker.Watch(rec.ID, rec.OwnerID, stage, "")
			}
			continue
		}
		if err := o.Advance(ctx, rec.ID); err != nil {
			o.recordLogger(rec).Error("resume process", logging.Args(logging.Error(err))...)
		}
	}
	return nil
}

func (o *Orchestrator) submitStage(ctx context.Context, rec *process.Record, stage process.Stage) error {
	req := provider.SubmitRequest{
		CallbackID:  rec.ID,
		Stage:       stage,
		PhotoRef:    rec.PhotoRef,
		AudioRef:    rec.AudioRef,
		Script:      rec.Script,
		Quality:     rec.Quality,
		Orientation: rec.Orientation,
		AvatarID:    rec.AvatarID,
		VoiceID:     rec.VoiceID,
	}
	if stage == process.StageVideo {
		req.Duration = process.EstimateDuration(rec.Script)
	}

	policy := retry.Policy{
		MaxAttempts: o.maxRetries,
		BaseDelay:   o.retryBase,
		MaxDelay:    o.retryMax,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			o.recordLogger(rec).Warn("submission retry", logging.Args(
				logging.String(logging.FieldStage, string(stage)),
				logging.Int(logging.FieldAttempt, attempt),
				logging.Duration("delay", delay),
				logging.Error(err))...)
			rec.RetryCount = attempt
			rec.LastError = err.Error()
			if updateErr := o.store.Update(ctx, rec); updateErr != nil {
				o.recordLogger(rec).Error("record retry attempt", logging.Args(logging.Error(updateErr))...)
			}
			o.notice(ctx, rec, fmt.Sprintf("The %s step hit a temporary problem. Retrying shortly.", stage))
		},
	}

	var jobID string
	err := policy.Execute(ctx, func(ctx context.Context) error {
		var submitErr error
		jobID, submitErr = o.provider.Submit(ctx, req)
		return submitErr
	})
	if err != nil {
		return fmt.Errorf("submit %s stage: %w", stage, err)
	}

	o.recordLogger(rec).Info("stage submitted", logging.Args(
		logging.String(logging.FieldStage, string(stage)))...)
	if o.tracker != nil {
		o.tracker.Watch(rec.ID, rec.OwnerID, stage, jobID)
	}
	return nil
}

func (o *Orchestrator) failLocked(ctx context.Context, rec *process.Record, reason string) error {
	if rec.IsTerminal() {
		return nil
	}
	claimed, err := o.store.Transition(ctx, rec.ID, rec.Status, process.StatusFailed)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	rec.Status = process.StatusFailed
	rec.LastError = reason
	if err := o.store.Update(ctx, rec); err != nil {
		return err
	}

	if o.tracker != nil {
		o.tracker.Cancel(rec.ID)
	}
	o.recordLogger(rec).Warn("process failed", logging.Args(
		logging.String(logging.FieldErrorHint, reason))...)
	o.notice(ctx, rec, "Your digital twin could not be created: "+reason)
	return nil
}

// notice sends a best-effort message to the process owner. Notification
// trouble never alters workflow state.
func (o *Orchestrator) notice(ctx context.Context, rec *process.Record, text string) {
	if _, err := o.notifier.SendMessage(ctx, rec.OwnerID, text); err != nil {
		o.recordLogger(rec).Warn("send notice", logging.Args(logging.Error(err))...)
	}
}

func (o *Orchestrator) recordLogger(rec *process.Record) *slog.Logger {
	return o.logger.With(logging.String(logging.FieldProcessID, rec.ID))
}
