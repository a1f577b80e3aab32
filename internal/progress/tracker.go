package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"doppel/internal/config"
	"doppel/internal/logging"
	"doppel/internal/notify"
	"doppel/internal/process"
	"doppel/internal/provider"
)

// FailureHandler marks a process failed when its polling budget runs out
// or when a poll observes a provider-reported failure.
type FailureHandler interface {
	FailWithTimeout(ctx context.Context, processID string) error
	FailWithReason(ctx context.Context, processID, reason string) error
}

// Coarse progress mapping for provider job states.
const (
	percentQueued     = 10
	percentProcessing = 50
	percentCompleted  = 100
	percentFailed     = 0
)

// Tracker runs one poll loop per watched process.
type Tracker struct {
	store    *process.Store
	provider provider.JobProvider
	notifier notify.Service
	failer   FailureHandler
	logger   *slog.Logger

	interval time.Duration
	maxTicks int

	mu      sync.Mutex
	watches map[string]*watchHandle
	wg      sync.WaitGroup
}

type watchHandle struct {
	cancel context.CancelFunc
}

// NewTracker builds a tracker with the polling cadence from config.
func NewTracker(cfg *config.Config, store *process.Store, jobs provider.JobProvider, notifier notify.Service, failer FailureHandler, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:    store,
		provider: jobs,
		notifier: notifier,
		failer:   failer,
		logger:   logging.WithComponent(logger, "progress"),
		interval: time.Duration(cfg.Workflow.PollIntervalSeconds) * time.Second,
		maxTicks: cfg.Workflow.PollMaxTicks,
		watches:  make(map[string]*watchHandle),
	}
}

// Watch starts a poll loop for the given process and stage, replacing any
// loop already running for that process. An empty jobID (after a daemon
// restart, when the provider job handle is gone) still counts ticks so a
// stuck process eventually times out.
func (t *Tracker) Watch(processID string, ownerID int64, stage process.Stage, jobID string) {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &watchHandle{cancel: cancel}

	t.mu.Lock()
	if prev, ok := t.watches[processID]; ok {
		prev.cancel()
	}
	t.watches[processID] = handle
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(ctx, handle, processID, ownerID, stage, jobID)
}

// Cancel stops the poll loop for a process. Safe to call for processes
// that were never watched.
func (t *Tracker) Cancel(processID string) {
	t.mu.Lock()
	handle, ok := t.watches[processID]
	if ok {
		delete(t.watches, processID)
	}
	t.mu.Unlock()
	if ok {
		handle.cancel()
	}
}

// Stop cancels every loop and waits for them to drain.
func (t *Tracker) Stop() {
	t.mu.Lock()
	for id, handle := range t.watches {
		handle.cancel()
		delete(t.watches, id)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

// release drops the watch entry only if it still belongs to this loop, so
// a stale loop never tears down its replacement.
func (t *Tracker) release(processID string, handle *watchHandle) {
	t.mu.Lock()
	if current, ok := t.watches[processID]; ok && current == handle {
		delete(t.watches, processID)
	}
	t.mu.Unlock()
	handle.cancel()
}

func (t *Tracker) run(ctx context.Context, handle *watchHandle, processID string, ownerID int64, stage process.Stage, jobID string) {
	defer t.wg.Done()
	defer t.release(processID, handle)
	logger := t.logger.With(
		logging.String(logging.FieldProcessID, processID),
		logging.String(logging.FieldStage, string(stage)),
	)

	messageID := t.cachedMessageID(ctx, processID)
	lastText := ""

	for tick := 1; tick <= t.maxTicks; tick++ {
		state, detail := t.snapshot(ctx, stage, jobID)
		text := renderProgress(stage, percentFor(state))
		if text != lastText {
			if id, ok := t.deliver(ctx, processID, ownerID, messageID, text, logger); ok {
				messageID = id
				lastText = text
			}
		}

		// A terminal poll result ends the loop: completion is driven home
		// by the provider callback, and a reported failure must not be
		// mistaken for a timeout later.
		switch state {
		case provider.StateCompleted:
			logger.Info("poll observed job completion")
			return
		case provider.StateFailed:
			if detail == "" {
				detail = "the provider reported the job failed"
			}
			logger.Warn("poll observed job failure", logging.Args(
				logging.String(logging.FieldErrorHint, detail))...)
			if err := t.failer.FailWithReason(ctx, processID, detail); err != nil {
				logger.Error("report job failure", logging.Args(logging.Error(err))...)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.interval):
		}
	}

	logger.Warn("polling budget exhausted")
	if err := t.failer.FailWithTimeout(ctx, processID); err != nil {
		logger.Error("report timeout", logging.Args(logging.Error(err))...)
	}
}

// cachedMessageID recovers the edit-in-place handle from a previous run.
func (t *Tracker) cachedMessageID(ctx context.Context, processID string) int64 {
	rec, err := t.store.GetByID(ctx, processID)
	if err != nil || rec == nil {
		return 0
	}
	return rec.ProgressMessageID
}

// snapshot polls the provider job once. An empty job handle and a failed
// poll both read as still processing so the loop keeps ticking.
func (t *Tracker) snapshot(ctx context.Context, stage process.Stage, jobID string) (provider.JobState, string) {
	if jobID == "" {
		return provider.StateProcessing, ""
	}
	status, err := t.provider.QueryStatus(ctx, stage, jobID)
	if err != nil {
		return provider.StateProcessing, ""
	}
	return status.State, status.Detail
}

func percentFor(state provider.JobState) int {
	switch state {
	case provider.StateQueued:
		return percentQueued
	case provider.StateCompleted:
		return percentCompleted
	case provider.StateFailed:
		return percentFailed
	default:
		return percentProcessing
	}
}

// deliver sends or edits the progress message. The second return reports
// whether the text actually reached the user, so a failed delivery is
// retried on the next tick.
func (t *Tracker) deliver(ctx context.Context, processID string, ownerID, messageID int64, text string, logger *slog.Logger) (int64, bool) {
	if messageID == 0 {
		id, err := t.notifier.SendMessage(ctx, ownerID, text)
		if err != nil {
			logger.Warn("send progress message", logging.Args(logging.Error(err))...)
			return 0, false
		}
		if err := t.store.SetProgressMessage(ctx, processID, id); err != nil {
			logger.Warn("cache progress message id", logging.Args(logging.Error(err))...)
		}
		return id, true
	}
	if err := t.notifier.EditMessage(ctx, ownerID, messageID, text); err != nil {
		logger.Warn("edit progress message", logging.Args(logging.Error(err))...)
		return messageID, false
	}
	return messageID, true
}

func renderProgress(stage process.Stage, percent int) string {
	var label string
	switch stage {
	case process.StageAvatar:
		label = "Preparing your avatar"
	case process.StageVoice:
		label = "Cloning your voice"
	default:
		label = "Rendering your video"
	}
	return fmt.Sprintf("%s: %d%%", label, percent)
}
