package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nestsync/internal/config"
	"nestsync/internal/domain"
	"nestsync/internal/status"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RetryTrigger is the manual "retry everything" action the UI exposes.
type RetryTrigger interface {
	RetryAll(ctx context.Context) error
}

// HTTPServer exposes the user-facing sync surface: one status, the error
// list, and a manual retry action.
type HTTPServer struct {
	cfg        config.APIConfig
	deviceID   string
	aggregator *status.Aggregator
	retrier    RetryTrigger
	ledger     domain.ErrorLedger
	states     domain.StateRepository
	auth       *HTTPAuth
	server     *http.Server
	logger     *zerolog.Logger
}

func NewHTTPServer(
	cfg config.APIConfig,
	deviceID string,
	aggregator *status.Aggregator,
	retrier RetryTrigger,
	ledger domain.ErrorLedger,
	states domain.StateRepository,
	logger *zerolog.Logger,
) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:        cfg,
		deviceID:   deviceID,
		aggregator: aggregator,
		retrier:    retrier,
		ledger:     ledger,
		states:     states,
		logger:     logger,
	}
	srv.auth = NewHTTPAuth(cfg.Auth)

	mux.HandleFunc("/api/v1/status", srv.handleStatus)
	mux.HandleFunc("/api/v1/errors", srv.handleErrors)
	mux.HandleFunc("/api/v1/errors/", srv.handleErrorByID)
	mux.HandleFunc("/api/v1/retry", srv.handleRetry)
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("control API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the assembled handler for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	st := s.aggregator.Status()

	// Best-effort publish of the snapshot so other surfaces can read it
	// without reaching into the engine.
	if s.states != nil {
		if err := s.states.SetStatus(r.Context(), s.aggregator.Snapshot(s.deviceID)); err != nil {
			s.logger.Warn().Err(err).Msg("persist status snapshot")
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"state":     st.State.String(),
		"message":   st.Message(),
		"pending":   st.Pending,
		"errors":    st.Errors,
		"last_sync": st.LastSync,
	})
}

func (s *HTTPServer) handleErrors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		errs, err := s.ledger.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list errors")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"errors": errs, "count": len(errs)})
	case http.MethodDelete:
		if err := s.ledger.ClearAll(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to clear errors")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleErrorByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/errors/")
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "error id is required")
		return
	}

	if err := s.ledger.Clear(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (s *HTTPServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	client := s.auth.ClientName(r)
	if client == "" {
		client = "anonymous"
	}
	if s.states != nil {
		allowed, err := s.states.CheckRateLimit(r.Context(), "retry:"+client, s.cfg.RetryLimitPerMin, time.Minute)
		if err != nil {
			s.logger.Warn().Err(err).Msg("retry rate limit check")
		} else if !allowed {
			writeError(w, http.StatusTooManyRequests, "retry rate limit exceeded")
			return
		}
	}

	go func() {
		if err := s.retrier.RetryAll(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("manual retry failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"retrying": true})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
