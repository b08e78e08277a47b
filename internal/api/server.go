// Package api serves connection status, window statistics, metrics and the
// subscriber command surface over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bridgewatch/internal/aggregate"
	"bridgewatch/internal/model"
	"bridgewatch/internal/storage"
	"bridgewatch/internal/stream"
)

// StatusSource reports the connection manager state.
type StatusSource interface {
	Status() stream.Status
}

// SubscriberCounter reports the number of active subscribers.
type SubscriberCounter interface {
	ActiveCount() int
}

// Pinger checks that a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers read from.
type Deps struct {
	Store       storage.EventStore
	Status      StatusSource
	Subscribers SubscriberCounter
	Registry    SubscriberRegistry
	Ready       Pinger
	Tokens      *aggregate.TokenCache
	// Token, when set, is required as a bearer token on subscriber mutations.
	Token string
}

type Server struct {
	addr   string
	deps   Deps
	logger *zap.Logger
}

func NewServer(addr string, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Tokens == nil {
		deps.Tokens = aggregate.NewTokenCache()
	}
	return &Server{addr: addr, deps: deps, logger: logger}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Get("/stats", s.stats)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/subscribers", s.subscriberRoutes)
	return r
}

// Serve listens until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func (s *Server) String() string {
	return "http-api"
}

type healthResponse struct {
	Status            string         `json:"status"`
	Stream            *stream.Status `json:"stream,omitempty"`
	Store             string         `json:"store,omitempty"`
	ActiveSubscribers int            `json:"active_subscribers"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	code := http.StatusOK
	if s.deps.Status != nil {
		status := s.deps.Status.Status()
		resp.Stream = &status
		switch {
		case status.Offline:
			resp.Status = "offline"
			code = http.StatusServiceUnavailable
		case status.State != stream.Streaming:
			resp.Status = "degraded"
		}
	}
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := s.deps.Ready.Ping(ctx)
		cancel()
		resp.Store = "ok"
		if err != nil {
			s.logger.Warn("store ping failed", zap.Error(err))
			resp.Store = "unreachable"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
			code = http.StatusServiceUnavailable
		}
	}
	if s.deps.Subscribers != nil {
		resp.ActiveSubscribers = s.deps.Subscribers.ActiveCount()
	}
	s.writeJSON(w, code, resp)
}

type statsRow struct {
	Type      model.TxType `json:"type"`
	Token     string       `json:"token"`
	Count     uint64       `json:"count"`
	Volume    string       `json:"volume"`
	Formatted string       `json:"formatted"`
}

type statsResponse struct {
	Window string         `json:"window"`
	Since  time.Time      `json:"since"`
	Total  uint64         `json:"total"`
	ByType map[string]int `json:"by_type"`
	Rows   []statsRow     `json:"rows"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	window, err := storage.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.deps.Store.Aggregate(r.Context(), window)
	if err != nil {
		s.logger.Error("aggregate stats failed", zap.Error(err), zap.Duration("window", window))
		s.writeError(w, http.StatusInternalServerError, "aggregate failed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.buildStats(stats))
}

func (s *Server) buildStats(stats model.Stats) statsResponse {
	resp := statsResponse{
		Window: stats.Window.String(),
		Since:  stats.Since,
		Total:  stats.Total(),
		ByType: make(map[string]int),
		Rows:   make([]statsRow, 0, len(stats.Rows)),
	}
	for t, n := range stats.CountByType() {
		resp.ByType[string(t)] = int(n)
	}
	for _, row := range stats.Rows {
		volume := "0"
		if row.Volume != nil {
			volume = row.Volume.String()
		}
		resp.Rows = append(resp.Rows, statsRow{
			Type:      row.Type,
			Token:     row.Token,
			Count:     row.Count,
			Volume:    volume,
			Formatted: s.deps.Tokens.Format(row.Token, row.Volume),
		})
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", zap.Error(err))
	}
}
