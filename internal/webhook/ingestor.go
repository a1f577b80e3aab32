package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"doppel/internal/config"
	"doppel/internal/logging"
	"doppel/internal/process"
)

// ErrBadSignature marks a delivery whose signature does not match the
// configured credentials.
var ErrBadSignature = errors.New("webhook signature mismatch")

// ErrMalformed marks a delivery whose envelope cannot be parsed.
var ErrMalformed = errors.New("malformed webhook delivery")

// Dispatcher receives authenticated stage outcomes. Implementations must
// tolerate redelivery of events for stages that already advanced.
type Dispatcher interface {
	OnExternalCompletion(ctx context.Context, callbackID string, stage process.Stage, artifactID, artifactURL string) error
	OnExternalFailure(ctx context.Context, callbackID string, stage process.Stage, reason string) error
}

// envelope is the outer delivery body sent by the provider.
type envelope struct {
	Signature   string `json:"signature"`
	DataEncrypt string `json:"dataEncrypt"`
	Timestamp   int64  `json:"timestamp"`
	Nonce       string `json:"nonce"`
}

// event is the decrypted payload.
type event struct {
	ID         string `json:"_id"`
	Status     int    `json:"status"`
	Type       string `json:"type"`
	URL        string `json:"url"`
	Error      string `json:"error"`
	CallbackID string `json:"callback_id"`
}

const (
	eventStatusCompleted = 3
	eventStatusFailed    = 4
)

// Ingestor authenticates, journals, and dispatches provider deliveries.
type Ingestor struct {
	store      *process.Store
	dispatcher Dispatcher
	logger     *slog.Logger

	clientID     string
	clientSecret string
}

// NewIngestor constructs an ingestor bound to the provider credentials.
func NewIngestor(cfg *config.Config, store *process.Store, dispatcher Dispatcher, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:        store,
		dispatcher:   dispatcher,
		logger:       logging.WithComponent(logger, "webhook"),
		clientID:     cfg.Provider.ClientID,
		clientSecret: cfg.Provider.ClientSecret,
	}
}

// Ingest processes one raw delivery body. A nil return means the provider
// should see success; ErrMalformed and ErrBadSignature are the only errors
// the HTTP layer converts into 4xx responses. Everything else is handled
// internally: the delivery stays journaled and the maintenance sweep
// retries it.
func (i *Ingestor) Ingest(ctx context.Context, providerName string, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(env.DataEncrypt) == "" || strings.TrimSpace(env.Signature) == "" {
		return fmt.Errorf("%w: missing signature or payload", ErrMalformed)
	}
	if !VerifySignature(i.clientID, env.Timestamp, env.Nonce, env.DataEncrypt, env.Signature) {
		return ErrBadSignature
	}

	webhookID := contentHash(body)
	entry, created, err := i.store.RecordWebhook(ctx, webhookID, providerName, "", string(body))
	if err != nil {
		i.logger.Error("journal delivery", logging.Args(
			logging.String(logging.FieldWebhookID, webhookID),
			logging.Error(err))...)
		return nil
	}
	if !created && entry.Processed {
		i.logger.Debug("duplicate delivery ignored", logging.Args(
			logging.String(logging.FieldWebhookID, webhookID))...)
		return nil
	}

	i.process(ctx, entry)
	return nil
}

// Reprocess retries a journaled delivery that was never claimed. Used by
// the maintenance sweep.
func (i *Ingestor) Reprocess(ctx context.Context, entry *process.WebhookLog) {
	if entry == nil || entry.Processed {
		return
	}
	i.process(ctx, entry)
}

func (i *Ingestor) process(ctx context.Context, entry *process.WebhookLog) {
	logger := i.logger.With(logging.String(logging.FieldWebhookID, entry.WebhookID))

	var env envelope
	if err := json.Unmarshal([]byte(entry.Payload), &env); err != nil {
		_ = i.store.SetWebhookError(ctx, entry.WebhookID, fmt.Sprintf("parse envelope: %v", err))
		logger.Warn("journaled delivery has unparseable envelope", logging.Args(logging.Error(err))...)
		return
	}

	plaintext, err := Decrypt(env.DataEncrypt, i.clientID, i.clientSecret)
	if err != nil {
		// Leave the delivery unprocessed; the sweep retries it and the
		// workflow itself is unaffected.
		_ = i.store.SetWebhookError(ctx, entry.WebhookID, fmt.Sprintf("decrypt payload: %v", err))
		logger.Warn("decrypt delivery payload", logging.Args(logging.Error(err))...)
		return
	}

	var evt event
	if err := json.Unmarshal(plaintext, &evt); err != nil {
		_ = i.store.SetWebhookError(ctx, entry.WebhookID, fmt.Sprintf("parse event: %v", err))
		logger.Warn("parse decrypted event", logging.Args(logging.Error(err))...)
		return
	}

	stage, ok := stageForEventType(evt.Type)
	eventType := eventTypeLabel(evt)
	_ = i.store.SetWebhookEventType(ctx, entry.WebhookID, eventType)
	logger = logger.With(
		logging.String(logging.FieldEventType, eventType),
		logging.String(logging.FieldProcessID, evt.CallbackID),
	)
	if !ok {
		if _, err := i.store.MarkWebhookProcessed(ctx, entry.WebhookID); err == nil {
			logger.Warn("unknown event type ignored")
		}
		return
	}
	if evt.Status != eventStatusCompleted && evt.Status != eventStatusFailed {
		// Intermediate progress events carry no state change for us.
		_, _ = i.store.MarkWebhookProcessed(ctx, entry.WebhookID)
		logger.Debug("non-terminal event ignored")
		return
	}
	if strings.TrimSpace(evt.CallbackID) == "" {
		_, _ = i.store.MarkWebhookProcessed(ctx, entry.WebhookID)
		logger.Warn("terminal event without callback id ignored")
		return
	}

	// Claim before dispatch so concurrent redeliveries cannot both act.
	claimed, err := i.store.MarkWebhookProcessed(ctx, entry.WebhookID)
	if err != nil {
		logger.Error("claim delivery", logging.Args(logging.Error(err))...)
		return
	}
	if !claimed {
		logger.Debug("delivery already claimed")
		return
	}

	var dispatchErr error
	if evt.Status == eventStatusCompleted {
		dispatchErr = i.dispatcher.OnExternalCompletion(ctx, evt.CallbackID, stage, evt.ID, evt.URL)
	} else {
		reason := strings.TrimSpace(evt.Error)
		if reason == "" {
			reason = "provider reported failure"
		}
		dispatchErr = i.dispatcher.OnExternalFailure(ctx, evt.CallbackID, stage, reason)
	}
	if dispatchErr != nil {
		_ = i.store.ReleaseWebhook(ctx, entry.WebhookID, fmt.Sprintf("dispatch: %v", dispatchErr))
		logger.Error("dispatch event", logging.Args(logging.Error(dispatchErr))...)
		return
	}

	logger.Info("event dispatched", logging.Args(logging.String(logging.FieldStage, string(stage)))...)
}

func stageForEventType(eventType string) (process.Stage, bool) {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "photo_avatar", "talking_photo", "avatar":
		return process.StageAvatar, true
	case "voice_clone", "voice_cloning", "voice":
		return process.StageVoice, true
	case "video", "video_generation", "talking_avatar":
		return process.StageVideo, true
	}
	return "", false
}

func eventTypeLabel(evt event) string {
	kind := strings.ToLower(strings.TrimSpace(evt.Type))
	if kind == "" {
		kind = "unknown"
	}
	switch evt.Status {
	case eventStatusCompleted:
		return kind + ".success"
	case eventStatusFailed:
		return kind + ".failed"
	default:
		return kind + ".progress"
	}
}

func contentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
