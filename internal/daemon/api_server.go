package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"doppel/internal/api"
	"doppel/internal/config"
	"doppel/internal/logging"
	"doppel/internal/orchestrator"
	"doppel/internal/services"
	"doppel/internal/webhook"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
	group    *errgroup.Group
}

func newAPIServer(cfg *config.Config, d *Daemon, hooks *webhook.Handler, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.WithComponent(logger, "api"),
		daemon: d,
	}

	r := chi.NewRouter()
	r.Get("/healthz", srv.handleHealth)
	r.Mount("/hooks", hooks.Routes())
	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(cfg.Paths.APIToken))
		r.Get("/status", srv.handleStatus)
		r.Get("/processes", srv.handleProcesses)
		r.Post("/processes", srv.handleCreateProcess)
		r.Get("/processes/{id}", srv.handleProcess)
	})

	srv.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	s.group = &errgroup.Group{}
	s.group.Go(func() error {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Args(logging.Error(err))...)
			return err
		}
		return nil
	})
	s.group.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})

	s.logger.Info("api server listening", logging.Args(
		logging.String("address", listener.Addr().String()))...)
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	s.shutdown()
	if s.group != nil {
		_ = s.group.Wait()
	}
}

func (s *apiServer) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

// addr returns the bound listen address, useful when the bind port is 0.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleProcesses(w http.ResponseWriter, r *http.Request) {
	records, err := s.daemon.store.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromRecords(records))
}

func (s *apiServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "process not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromRecord(rec))
}

func (s *apiServer) handleCreateProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body")
		return
	}
	var req api.CreateProcessRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	rec, err := s.daemon.orch.CreateProcess(r.Context(), orchestratorRequest(req))
	if err != nil && rec == nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrValidation) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err.Error())
		return
	}
	// A record that failed its first submission is still returned so the
	// caller can inspect the outcome.
	s.writeJSON(w, http.StatusCreated, api.FromRecord(rec))
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write response", logging.Args(logging.Error(err))...)
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func orchestratorRequest(req api.CreateProcessRequest) orchestrator.CreateRequest {
	return orchestrator.CreateRequest{
		OwnerID:     req.OwnerID,
		PhotoRef:    req.PhotoRef,
		AudioRef:    req.AudioRef,
		Script:      req.Script,
		Quality:     req.Quality,
		Orientation: req.Orientation,
	}
}
