package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"doppel/internal/api"
	"doppel/internal/config"
	"doppel/internal/logging"
	"doppel/internal/notify"
	"doppel/internal/orchestrator"
	"doppel/internal/process"
	"doppel/internal/progress"
	"doppel/internal/provider"
	"doppel/internal/webhook"
)

// Daemon owns the long-running workflow service and enforces
// single-instance execution through a lock file.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *process.Store
	orch    *orchestrator.Orchestrator
	tracker *progress.Tracker

	lockPath string
	lock     *flock.Flock

	api         *apiServer
	maintenance *maintenance

	running atomic.Bool
	cancel  context.CancelFunc
}

// New wires the full component graph: provider client, notifier,
// orchestrator, progress tracker, webhook ingestor, HTTP surface, and
// scheduled maintenance.
func New(cfg *config.Config, store *process.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}

	notifier := notify.NewService(cfg)
	jobs := provider.NewClient(cfg, nil)

	orch := orchestrator.New(cfg, store, jobs, notifier, logger)
	tracker := progress.NewTracker(cfg, store, jobs, notifier, orch, logger)
	orch.SetTracker(tracker)

	ingestor := webhook.NewIngestor(cfg, store, orch, logger)
	hooks := webhook.NewHandler(ingestor, logger)

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "daemon"),
		store:    store,
		orch:     orch,
		tracker:  tracker,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}

	apiSrv, err := newAPIServer(cfg, d, hooks, logger)
	if err != nil {
		return nil, err
	}
	d.api = apiSrv

	maint, err := newMaintenance(cfg, store, ingestor, logger)
	if err != nil {
		return nil, err
	}
	d.maintenance = maint
	return d, nil
}

// Start acquires the instance lock, brings up the HTTP surface and the
// maintenance schedule, and re-attaches watches for in-flight processes.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another doppel daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.maintenance.start()

	if err := d.orch.Resume(runCtx); err != nil {
		d.logger.Error("resume in-flight processes", logging.Args(logging.Error(err))...)
	}

	d.running.Store(true)
	d.logger.Info("daemon started", logging.Args(
		logging.String("lock", d.lockPath),
		logging.String("database", d.store.Path()))...)
	return nil
}

// Stop tears down background work and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.maintenance.stop()
	d.api.stop()
	d.tracker.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Args(logging.Error(err))...)
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Run starts the daemon and blocks until the context ends.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()
	<-ctx.Done()
	return nil
}

// Addr returns the listen address of the API server, empty when disabled.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status summarizes the daemon and its workflow records.
func (d *Daemon) Status(ctx context.Context) (*api.DaemonStatus, error) {
	counts, err := d.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	statusCounts := make(map[string]int, len(counts))
	for status, count := range counts {
		statusCounts[string(status)] = count
	}
	return &api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		StatusCounts: statusCounts,
	}, nil
}
