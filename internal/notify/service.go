package notify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"doppel/internal/config"
)

// Service defines the delivery surface exposed to workflow components.
// SendMessage returns the delivered message id so later updates can edit
// the same message in place.
type Service interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string) error
	SendVideo(ctx context.Context, chatID int64, videoURL, caption string) error
}

// NewService builds a delivery service backed by the Telegram Bot API when
// configured. When delivery is disabled or no token is set, a noop
// implementation is returned.
func NewService(cfg *config.Config) Service {
	token := strings.TrimSpace(cfg.Telegram.BotToken)
	if !cfg.Telegram.Enabled || token == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Telegram.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &telegramService{
		baseURL: strings.TrimRight(cfg.Telegram.BaseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type noopService struct{}

func (noopService) SendMessage(context.Context, int64, string) (int64, error) { return 0, nil }
func (noopService) EditMessage(context.Context, int64, int64, string) error   { return nil }
func (noopService) SendVideo(context.Context, int64, string, string) error    { return nil }
