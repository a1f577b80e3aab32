package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doppel/internal/config"
	"doppel/internal/logging"
	"doppel/internal/process"
	"doppel/internal/testsupport"
	"doppel/internal/webhook"
)

type dispatchCall struct {
	callbackID  string
	stage       process.Stage
	artifactID  string
	artifactURL string
	reason      string
	failed      bool
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	err   error
}

func (f *fakeDispatcher) OnExternalCompletion(_ context.Context, callbackID string, stage process.Stage, artifactID, artifactURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, dispatchCall{callbackID: callbackID, stage: stage, artifactID: artifactID, artifactURL: artifactURL})
	return nil
}

func (f *fakeDispatcher) OnExternalFailure(_ context.Context, callbackID string, stage process.Stage, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, dispatchCall{callbackID: callbackID, stage: stage, reason: reason, failed: true})
	return nil
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newIngestorFixture(t *testing.T) (*webhook.Ingestor, *process.Store, *fakeDispatcher, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	dispatcher := &fakeDispatcher{}
	ingestor := webhook.NewIngestor(cfg, store, dispatcher, logging.NewNop())
	return ingestor, store, dispatcher, cfg
}

func buildDelivery(t *testing.T, cfg *config.Config, evt map[string]any) []byte {
	t.Helper()
	plaintext, err := json.Marshal(evt)
	require.NoError(t, err)

	dataEncrypt, err := webhook.Encrypt(plaintext, cfg.Provider.ClientID, cfg.Provider.ClientSecret)
	require.NoError(t, err)

	timestamp := int64(1710757981609)
	nonce := "1529"
	body, err := json.Marshal(map[string]any{
		"signature":   webhook.Signature(cfg.Provider.ClientID, timestamp, nonce, dataEncrypt),
		"dataEncrypt": dataEncrypt,
		"timestamp":   timestamp,
		"nonce":       nonce,
	})
	require.NoError(t, err)
	return body
}

func TestIngestDispatchesCompletion(t *testing.T) {
	ingestor, store, dispatcher, cfg := newIngestorFixture(t)
	ctx := context.Background()

	body := buildDelivery(t, cfg, map[string]any{
		"_id":         "artifact-1",
		"status":      3,
		"type":        "photo_avatar",
		"url":         "https://cdn/avatar.png",
		"callback_id": "proc-1",
	})

	require.NoError(t, ingestor.Ingest(ctx, "akool", body))

	require.Equal(t, 1, dispatcher.callCount())
	call := dispatcher.calls[0]
	assert.Equal(t, "proc-1", call.callbackID)
	assert.Equal(t, process.StageAvatar, call.stage)
	assert.Equal(t, "artifact-1", call.artifactID)
	assert.Equal(t, "https://cdn/avatar.png", call.artifactURL)
	assert.False(t, call.failed)

	pending, err := store.UnprocessedWebhooks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "claimed delivery must be marked processed")
}

func TestIngestDispatchesFailure(t *testing.T) {
	ingestor, _, dispatcher, cfg := newIngestorFixture(t)

	body := buildDelivery(t, cfg, map[string]any{
		"_id":         "artifact-2",
		"status":      4,
		"type":        "voice_clone",
		"error":       "audio too short",
		"callback_id": "proc-2",
	})

	require.NoError(t, ingestor.Ingest(context.Background(), "akool", body))

	require.Equal(t, 1, dispatcher.callCount())
	call := dispatcher.calls[0]
	assert.True(t, call.failed)
	assert.Equal(t, process.StageVoice, call.stage)
	assert.Equal(t, "audio too short", call.reason)
}

func TestIngestDuplicateDispatchesOnce(t *testing.T) {
	ingestor, _, dispatcher, cfg := newIngestorFixture(t)
	ctx := context.Background()

	body := buildDelivery(t, cfg, map[string]any{
		"_id":         "artifact-3",
		"status":      3,
		"type":        "video",
		"url":         "https://cdn/video.mp4",
		"callback_id": "proc-3",
	})

	require.NoError(t, ingestor.Ingest(ctx, "akool", body))
	require.NoError(t, ingestor.Ingest(ctx, "akool", body))
	require.NoError(t, ingestor.Ingest(ctx, "akool", body))

	assert.Equal(t, 1, dispatcher.callCount())
}

func TestIngestRejectsBadSignature(t *testing.T) {
	ingestor, store, dispatcher, cfg := newIngestorFixture(t)
	ctx := context.Background()

	body := buildDelivery(t, cfg, map[string]any{
		"_id": "x", "status": 3, "type": "video", "callback_id": "proc-4",
	})
	var env map[string]any
	require.NoError(t, json.Unmarshal(body, &env))
	env["signature"] = "0000000000000000000000000000000000000000"
	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	err = ingestor.Ingest(ctx, "akool", tampered)
	assert.ErrorIs(t, err, webhook.ErrBadSignature)
	assert.Zero(t, dispatcher.callCount())

	pending, err := store.UnprocessedWebhooks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "unauthenticated deliveries are not journaled")
}

func TestIngestRejectsMalformedBody(t *testing.T) {
	ingestor, _, _, _ := newIngestorFixture(t)

	err := ingestor.Ingest(context.Background(), "akool", []byte("not json"))
	assert.ErrorIs(t, err, webhook.ErrMalformed)

	err = ingestor.Ingest(context.Background(), "akool", []byte(`{"timestamp":1}`))
	assert.ErrorIs(t, err, webhook.ErrMalformed)
}

func TestIngestUndecryptableStaysForSweep(t *testing.T) {
	ingestor, store, dispatcher, cfg := newIngestorFixture(t)
	ctx := context.Background()

	// Signed envelope around a payload encrypted with different credentials.
	dataEncrypt, err := webhook.Encrypt([]byte(`{"status":3}`), testClientID, testClientSecret)
	require.NoError(t, err)
	timestamp := int64(42)
	body, err := json.Marshal(map[string]any{
		"signature":   webhook.Signature(cfg.Provider.ClientID, timestamp, "n", dataEncrypt),
		"dataEncrypt": dataEncrypt,
		"timestamp":   timestamp,
		"nonce":       "n",
	})
	require.NoError(t, err)

	require.NoError(t, ingestor.Ingest(ctx, "akool", body))
	assert.Zero(t, dispatcher.callCount())

	pending, err := store.UnprocessedWebhooks(ctx, 10)
	require.NoError(t, err)
	if assert.Len(t, pending, 1) {
		// Wrong credentials fail at the padding check or at event parsing;
		// either way the delivery stays unprocessed with the cause recorded.
		assert.NotEmpty(t, pending[0].Error)
	}
}

func TestIngestIgnoresNonTerminalEvents(t *testing.T) {
	ingestor, store, dispatcher, cfg := newIngestorFixture(t)
	ctx := context.Background()

	body := buildDelivery(t, cfg, map[string]any{
		"_id": "artifact-5", "status": 2, "type": "video", "callback_id": "proc-5",
	})

	require.NoError(t, ingestor.Ingest(ctx, "akool", body))
	assert.Zero(t, dispatcher.callCount())

	pending, err := store.UnprocessedWebhooks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "progress events are consumed without dispatch")
}

func TestDispatchFailureReleasesDelivery(t *testing.T) {
	ingestor, store, dispatcher, cfg := newIngestorFixture(t)
	ctx := context.Background()
	dispatcher.err = errors.New("store unavailable")

	body := buildDelivery(t, cfg, map[string]any{
		"_id": "artifact-6", "status": 3, "type": "video", "callback_id": "proc-6",
	})

	require.NoError(t, ingestor.Ingest(ctx, "akool", body))

	pending, err := store.UnprocessedWebhooks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].Error, "dispatch")

	// The sweep retries once the dispatcher recovers.
	dispatcher.err = nil
	ingestor.Reprocess(ctx, pending[0])
	assert.Equal(t, 1, dispatcher.callCount())

	pending, err = store.UnprocessedWebhooks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
