package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"doppel/internal/config"
	"doppel/internal/process"
	"doppel/internal/services"
)

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

const apiSuccessCode = 1000

// Client talks to the vendor open API. Access tokens are fetched with the
// client credentials and cached until shortly before expiry.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         HTTPDoer

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient constructs a vendor API client from configuration.
func NewClient(cfg *config.Config, doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: time.Duration(cfg.Provider.RequestTimeout) * time.Second}
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.Provider.BaseURL, "/"),
		clientID:     cfg.Provider.ClientID,
		clientSecret: cfg.Provider.ClientSecret,
		http:         doer,
	}
}

type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type jobData struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	URL    string `json:"url"`
	Error  string `json:"error"`
}

// Submit starts the provider job for the requested stage and returns the
// provider job id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	stage := string(req.Stage)
	path, body, err := submitPayload(req)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, stage, "submit", "build request", err)
	}

	var data jobData
	if err := c.doJSON(ctx, http.MethodPost, path, body, &data); err != nil {
		return "", wrapHTTPError(stage, "submit", err)
	}
	if data.ID == "" {
		return "", services.Wrap(services.ErrFatal, stage, "submit", "provider response missing job id", nil)
	}
	return data.ID, nil
}

// QueryStatus fetches the current snapshot of a provider job.
func (c *Client) QueryStatus(ctx context.Context, stage process.Stage, jobID string) (JobStatus, error) {
	if strings.TrimSpace(jobID) == "" {
		return JobStatus{}, services.Wrap(services.ErrValidation, string(stage), "query status", "job id is empty", nil)
	}

	path := statusPath(stage) + "?id=" + url.QueryEscape(jobID)
	var data jobData
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &data); err != nil {
		return JobStatus{}, wrapHTTPError(string(stage), "query status", err)
	}

	status := JobStatus{
		State:       stateFromCode(data.Status),
		ArtifactID:  data.ID,
		ArtifactURL: data.URL,
		Detail:      data.Error,
	}
	return status, nil
}

func submitPayload(req SubmitRequest) (string, map[string]any, error) {
	switch req.Stage {
	case process.StageAvatar:
		if req.PhotoRef == "" {
			return "", nil, fmt.Errorf("photo reference is required")
		}
		return "/avatar/create", map[string]any{
			"image_url":   req.PhotoRef,
			"callback_id": req.CallbackID,
		}, nil
	case process.StageVoice:
		if req.AudioRef == "" {
			return "", nil, fmt.Errorf("audio reference is required")
		}
		return "/voice/clone", map[string]any{
			"audio_url":   req.AudioRef,
			"callback_id": req.CallbackID,
		}, nil
	case process.StageVideo:
		if req.AvatarID == "" || req.VoiceID == "" {
			return "", nil, fmt.Errorf("avatar and voice artifacts are required")
		}
		if strings.TrimSpace(req.Script) == "" {
			return "", nil, fmt.Errorf("script is required")
		}
		return "/talking-avatar/create", map[string]any{
			"avatar_id":   req.AvatarID,
			"voice_id":    req.VoiceID,
			"script":      req.Script,
			"quality":     req.Quality,
			"orientation": req.Orientation,
			"duration":    int(req.Duration.Seconds()),
			"callback_id": req.CallbackID,
		}, nil
	default:
		return "", nil, fmt.Errorf("unknown stage %q", req.Stage)
	}
}

func statusPath(stage process.Stage) string {
	switch stage {
	case process.StageAvatar:
		return "/avatar/detail"
	case process.StageVoice:
		return "/voice/detail"
	default:
		return "/talking-avatar/detail"
	}
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

// apiCodeError is a vendor envelope that arrived over a 2xx response but
// carries a non-success business code.
type apiCodeError struct {
	code int
	msg  string
}

func (e *apiCodeError) Error() string {
	return fmt.Sprintf("provider code %d: %s", e.code, e.msg)
}

func wrapHTTPError(stage, operation string, err error) error {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		if statusErr.status == http.StatusTooManyRequests || statusErr.status >= 500 {
			return services.Wrap(services.ErrTransient, stage, operation, "provider unavailable", err)
		}
		return services.Wrap(services.ErrFatal, stage, operation, "provider rejected request", err)
	}
	// A non-success envelope code is the vendor rejecting the request
	// itself (bad parameters, quota, unknown job); retrying cannot help.
	var codeErr *apiCodeError
	if errors.As(err, &codeErr) {
		return services.Wrap(services.ErrFatal, stage, operation, "provider rejected request", err)
	}
	return services.Wrap(services.ErrTransient, stage, operation, "provider request failed", err)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body map[string]any, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var envelope apiEnvelope
	if err := c.request(ctx, method, path, body, token, &envelope); err != nil {
		return err
	}
	if envelope.Code != apiSuccessCode {
		return &apiCodeError{code: envelope.Code, msg: envelope.Msg}
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode provider data: %w", err)
		}
	}
	return nil
}

// accessToken returns a cached token, refreshing it when absent or near
// expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.token, nil
	}

	var envelope apiEnvelope
	body := map[string]any{
		"clientId":     c.clientID,
		"clientSecret": c.clientSecret,
	}
	if err := c.request(ctx, http.MethodPost, "/getToken", body, "", &envelope); err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	if envelope.Code != apiSuccessCode {
		return "", fmt.Errorf("fetch access token: %w", &apiCodeError{code: envelope.Code, msg: envelope.Msg})
	}

	var data struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if data.Token == "" {
		return "", fmt.Errorf("fetch access token: empty token in response")
	}

	c.token = data.Token
	expiresIn := data.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	return c.token, nil
}

func (c *Client) request(ctx context.Context, method, path string, body map[string]any, token string, out *apiEnvelope) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &httpStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(bodyBytes))}
	}

	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
