package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"doppel/internal/process"
	"doppel/internal/provider"
	"doppel/internal/services"
	"doppel/internal/testsupport"
)

func newTestClient(t *testing.T, handler http.Handler) (*provider.Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t)
	cfg.Provider.BaseURL = server.URL
	return provider.NewClient(cfg, server.Client()), server
}

func writeEnvelope(w http.ResponseWriter, code int, data any) {
	payload := map[string]any{"code": code, "msg": "ok", "data": data}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func tokenAwareMux(t *testing.T, tokenCalls *atomic.Int64, handle func(w http.ResponseWriter, r *http.Request)) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/getToken", func(w http.ResponseWriter, r *http.Request) {
		if tokenCalls != nil {
			tokenCalls.Add(1)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode token request: %v", err)
		}
		if body["clientId"] == "" || body["clientSecret"] == "" {
			t.Error("token request missing credentials")
		}
		writeEnvelope(w, 1000, map[string]any{"token": "test-token", "expires_in": 3600})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization header = %q", got)
		}
		handle(w, r)
	})
	return mux
}

func TestSubmitAvatarStage(t *testing.T) {
	var tokenCalls atomic.Int64
	client, _ := newTestClient(t, tokenAwareMux(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/avatar/create" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["image_url"] != "https://files/photo.jpg" {
			t.Errorf("image_url = %v", body["image_url"])
		}
		if body["callback_id"] != "proc-1" {
			t.Errorf("callback_id = %v", body["callback_id"])
		}
		writeEnvelope(w, 1000, map[string]any{"_id": "job-avatar-1", "status": 1})
	}))

	jobID, err := client.Submit(context.Background(), provider.SubmitRequest{
		CallbackID: "proc-1",
		Stage:      process.StageAvatar,
		PhotoRef:   "https://files/photo.jpg",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "job-avatar-1" {
		t.Fatalf("job id = %q", jobID)
	}
	if tokenCalls.Load() != 1 {
		t.Fatalf("token fetched %d times, expected 1", tokenCalls.Load())
	}
}

func TestSubmitVideoStageCarriesInputs(t *testing.T) {
	client, _ := newTestClient(t, tokenAwareMux(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/talking-avatar/create" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["avatar_id"] != "avatar-1" || body["voice_id"] != "voice-1" {
			t.Errorf("artifacts not forwarded: %v", body)
		}
		if body["quality"] != "1080p" || body["orientation"] != "landscape" {
			t.Errorf("render options not forwarded: %v", body)
		}
		if body["duration"] != float64(50) {
			t.Errorf("duration = %v, expected 50", body["duration"])
		}
		writeEnvelope(w, 1000, map[string]any{"_id": "job-video-1", "status": 1})
	}))

	jobID, err := client.Submit(context.Background(), provider.SubmitRequest{
		CallbackID:  "proc-2",
		Stage:       process.StageVideo,
		Script:      "hello there",
		Quality:     "1080p",
		Orientation: "landscape",
		AvatarID:    "avatar-1",
		VoiceID:     "voice-1",
		Duration:    50 * time.Second,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "job-video-1" {
		t.Fatalf("job id = %q", jobID)
	}
}

func TestSubmitValidatesInputs(t *testing.T) {
	client, _ := newTestClient(t, tokenAwareMux(t, nil, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called for invalid input")
	}))

	_, err := client.Submit(context.Background(), provider.SubmitRequest{
		CallbackID: "proc-3",
		Stage:      process.StageVideo,
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestQueryStatusMapsVendorCodes(t *testing.T) {
	cases := []struct {
		code     int
		expected provider.JobState
	}{
		{1, provider.StateQueued},
		{2, provider.StateProcessing},
		{3, provider.StateCompleted},
		{4, provider.StateFailed},
		{9, provider.StateUnknown},
	}
	for _, tc := range cases {
		client, _ := newTestClient(t, tokenAwareMux(t, nil, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/talking-avatar/detail" {
				t.Errorf("path = %q", r.URL.Path)
			}
			if r.URL.Query().Get("id") != "job-1" {
				t.Errorf("id = %q", r.URL.Query().Get("id"))
			}
			writeEnvelope(w, 1000, map[string]any{"_id": "job-1", "status": tc.code, "url": "https://cdn/video.mp4"})
		}))

		status, err := client.QueryStatus(context.Background(), process.StageVideo, "job-1")
		if err != nil {
			t.Fatalf("QueryStatus: %v", err)
		}
		if status.State != tc.expected {
			t.Fatalf("code %d mapped to %s, expected %s", tc.code, status.State, tc.expected)
		}
		if status.ArtifactURL != "https://cdn/video.mp4" {
			t.Fatalf("artifact url = %q", status.ArtifactURL)
		}
	}
}

func TestServerErrorsAreTransient(t *testing.T) {
	client, _ := newTestClient(t, tokenAwareMux(t, nil, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))

	_, err := client.QueryStatus(context.Background(), process.StageAvatar, "job-1")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestClientErrorsAreFatal(t *testing.T) {
	client, _ := newTestClient(t, tokenAwareMux(t, nil, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such job", http.StatusNotFound)
	}))

	_, err := client.QueryStatus(context.Background(), process.StageAvatar, "job-1")
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestEnvelopeRejectionIsFatal(t *testing.T) {
	// A vendor rejection rides in over HTTP 200 as a non-success business
	// code; it must not be retried as if the provider were unavailable.
	client, _ := newTestClient(t, tokenAwareMux(t, nil, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 1102, nil)
	}))

	_, err := client.Submit(context.Background(), provider.SubmitRequest{
		CallbackID: "proc-9",
		Stage:      process.StageAvatar,
		PhotoRef:   "https://files/photo.jpg",
	})
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if errors.Is(err, services.ErrTransient) {
		t.Fatalf("vendor rejection classified transient: %v", err)
	}
}

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	var tokenCalls atomic.Int64
	client, _ := newTestClient(t, tokenAwareMux(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 1000, map[string]any{"_id": "job-1", "status": 2})
	}))

	for i := 0; i < 3; i++ {
		if _, err := client.QueryStatus(context.Background(), process.StageAvatar, "job-1"); err != nil {
			t.Fatalf("QueryStatus: %v", err)
		}
	}
	if tokenCalls.Load() != 1 {
		t.Fatalf("token fetched %d times, expected cached reuse", tokenCalls.Load())
	}
}
