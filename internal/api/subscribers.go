package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"bridgewatch/internal/model"
	"bridgewatch/internal/registry"
)

// SubscriberRegistry is the command surface over the subscriber set.
type SubscriberRegistry interface {
	ActiveSubscribers() *registry.Snapshot
	Subscribe(ctx context.Context, id string) (model.Subscriber, error)
	Unsubscribe(ctx context.Context, id string) error
	SetFilter(ctx context.Context, id string, filter registry.Filter) error
}

type subscriberResponse struct {
	ID     string   `json:"id"`
	Active bool     `json:"active"`
	Filter []string `json:"filter"`
}

type filterRequest struct {
	Types []string `json:"types"`
}

func toSubscriberResponse(sub model.Subscriber) subscriberResponse {
	return subscriberResponse{ID: sub.ID, Active: sub.Active, Filter: sub.FilterNames()}
}

func (s *Server) subscriberRoutes(r chi.Router) {
	r.Use(s.requireRegistry)
	r.Get("/{id}", s.getSubscriber)
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Put("/{id}", s.subscribe)
		r.Delete("/{id}", s.unsubscribe)
		r.Put("/{id}/filter", s.setFilter)
	})
}

func (s *Server) requireRegistry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Registry == nil {
			s.writeError(w, http.StatusServiceUnavailable, "registry not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireToken checks the bearer token when one is configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.deps.Token)) != 1 {
				s.writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getSubscriber(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, ok := s.deps.Registry.ActiveSubscribers().Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown subscriber")
		return
	}
	s.writeJSON(w, http.StatusOK, toSubscriberResponse(sub))
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := s.deps.Registry.Subscribe(r.Context(), id)
	if err != nil {
		s.mutationError(w, id, "subscribe", err)
		return
	}
	s.logger.Info("subscriber activated", zap.String("subscriber", id))
	s.writeJSON(w, http.StatusOK, toSubscriberResponse(sub))
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Registry.Unsubscribe(r.Context(), id); err != nil {
		s.mutationError(w, id, "unsubscribe", err)
		return
	}
	s.logger.Info("subscriber deactivated by request", zap.String("subscriber", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setFilter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	filter, err := registry.ParseFilter(req.Types)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Registry.SetFilter(r.Context(), id, filter); err != nil {
		s.mutationError(w, id, "set filter", err)
		return
	}
	sub, _ := s.deps.Registry.ActiveSubscribers().Get(id)
	s.writeJSON(w, http.StatusOK, toSubscriberResponse(sub))
}

func (s *Server) mutationError(w http.ResponseWriter, id, op string, err error) {
	if errors.Is(err, registry.ErrUnknownSubscriber) {
		s.writeError(w, http.StatusNotFound, "unknown subscriber")
		return
	}
	s.logger.Error(op+" failed", zap.String("subscriber", id), zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, op+" failed")
}
