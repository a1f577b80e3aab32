package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const userAgent = "doppel/0.1.0"

type telegramService struct {
	baseURL string
	token   string
	client  *http.Client
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (t *telegramService) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	resp, err := t.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return 0, err
	}
	return resp.Result.MessageID, nil
}

func (t *telegramService) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	_, err := t.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	})
	// Editing with identical content is not an error worth surfacing.
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

func (t *telegramService) SendVideo(ctx context.Context, chatID int64, videoURL, caption string) error {
	_, err := t.call(ctx, "sendVideo", map[string]any{
		"chat_id": chatID,
		"video":   videoURL,
		"caption": caption,
	})
	return err
}

func (t *telegramService) call(ctx context.Context, method string, body map[string]any) (*telegramResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	defer httpResp.Body.Close()

	var resp telegramResponse
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, 1<<20)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram %s failed: %s", method, resp.Description)
	}
	return &resp, nil
}
