package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"doppel/internal/config"
	"doppel/internal/logging"
	"doppel/internal/process"
	"doppel/internal/webhook"
)

const (
	sweepTimeout    = 5 * time.Minute
	sweepBatchLimit = 100
)

// maintenance runs the scheduled housekeeping jobs: evicting terminal
// records past retention and re-dispatching webhook deliveries that were
// journaled but never claimed.
type maintenance struct {
	cron      *cron.Cron
	store     *process.Store
	ingestor  *webhook.Ingestor
	logger    *slog.Logger
	retention time.Duration
}

func newMaintenance(cfg *config.Config, store *process.Store, ingestor *webhook.Ingestor, logger *slog.Logger) (*maintenance, error) {
	m := &maintenance{
		cron:      cron.New(),
		store:     store,
		ingestor:  ingestor,
		logger:    logging.WithComponent(logger, "maintenance"),
		retention: time.Duration(cfg.Workflow.RetentionDays) * 24 * time.Hour,
	}
	if _, err := m.cron.AddFunc(cfg.Workflow.MaintenanceSchedule, m.sweep); err != nil {
		return nil, fmt.Errorf("schedule maintenance: %w", err)
	}
	return m, nil
}

func (m *maintenance) start() {
	m.cron.Start()
}

func (m *maintenance) stop() {
	<-m.cron.Stop().Done()
}

func (m *maintenance) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	m.reprocessWebhooks(ctx)
	m.evict(ctx)
}

// reprocessWebhooks retries deliveries left unprocessed by decryption or
// dispatch failures. Deliveries that fail again simply stay in the pool.
func (m *maintenance) reprocessWebhooks(ctx context.Context) {
	entries, err := m.store.UnprocessedWebhooks(ctx, sweepBatchLimit)
	if err != nil {
		m.logger.Error("list unprocessed webhooks", logging.Args(logging.Error(err))...)
		return
	}
	for _, entry := range entries {
		m.ingestor.Reprocess(ctx, entry)
	}
	if len(entries) > 0 {
		m.logger.Info("webhook sweep finished", logging.Args(logging.Int("entries", len(entries)))...)
	}
}

func (m *maintenance) evict(ctx context.Context) {
	cutoff := time.Now().Add(-m.retention)

	records, err := m.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		m.logger.Error("evict terminal records", logging.Args(logging.Error(err))...)
	}
	webhooks, err := m.store.DeleteProcessedWebhooksBefore(ctx, cutoff)
	if err != nil {
		m.logger.Error("evict processed webhooks", logging.Args(logging.Error(err))...)
	}
	if records > 0 || webhooks > 0 {
		m.logger.Info("retention eviction finished", logging.Args(
			logging.Int64("records", records),
			logging.Int64("webhooks", webhooks))...)
	}
}
