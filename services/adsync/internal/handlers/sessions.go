// Package handlers implements the adsync control plane: the HTTP surface a
// remote player uses to drive its hosted reconciliation session.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/ads-platform/internal/platform/analytics"
	"github.com/example/ads-platform/internal/platform/api"
	"github.com/example/ads-platform/internal/platform/auth"
	"github.com/example/ads-platform/internal/platform/httpserver"
	"github.com/example/ads-platform/services/adsync/internal/session"
	"github.com/example/ads-platform/services/adsync/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SessionHandler serves the session lifecycle routes.
type SessionHandler struct {
	Manager *session.Manager
	History store.SnapshotRepository // nil disables /history
	Events  *analytics.Publisher
	Log     *zap.Logger
}

// Mount registers the owner-facing routes. Callers wrap the router in auth
// middleware.
func (h *SessionHandler) Mount(r chi.Router) {
	r.Post("/v1/sessions", h.Create)
	r.Post("/v1/sessions/{id}/events", h.IngestEvents)
	r.Get("/v1/sessions/{id}/state", h.State)
	r.Get("/v1/sessions/{id}/progress", h.Progress)
	r.Get("/v1/sessions/{id}/history", h.HistoryList)
	r.Post("/v1/sessions/{id}/detach", h.Detach)
	r.Post("/v1/sessions/{id}/attach", h.Attach)
	r.Delete("/v1/sessions/{id}", h.Delete)
}

type createRequest struct {
	AdTagURL string `json:"ad_tag_url"`
}

type createResponse struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	var req createRequest
	if !decodeJSON(w, r, rid, &req) {
		return
	}
	if req.AdTagURL == "" {
		api.BadRequest(w, "MISSING_AD_TAG", "ad_tag_url is required", rid, nil)
		return
	}
	owner, _ := auth.UserIDFromContext(r.Context())

	s := h.Manager.Create(owner, req.AdTagURL)
	h.Log.Info("session created", zap.String("session_id", s.ID), zap.String("owner", owner))
	h.Events.Publish(analytics.SubjectSessionCreated, "session_created", s.ID,
		map[string]any{"ad_tag_url": req.AdTagURL})

	api.WriteJSON(w, http.StatusCreated, createResponse{SessionID: s.ID, CreatedAt: s.CreatedAt})
}

type eventsRequest struct {
	Events []session.PlayerEvent `json:"events"`
}

type eventsResponse struct {
	Commands []string `json:"commands"`
	Mode     string   `json:"mode"`
}

// IngestEvents applies player events in arrival order and returns the
// commands the engine issued while processing them.
func (h *SessionHandler) IngestEvents(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	s, ok := h.ownedSession(w, r, rid)
	if !ok {
		return
	}
	var req eventsRequest
	if !decodeJSON(w, r, rid, &req) {
		return
	}
	commands, mode, err := s.ApplyEvents(req.Events)
	if err != nil {
		h.writeSessionError(w, rid, err)
		return
	}
	if commands == nil {
		commands = []string{}
	}
	api.WriteJSON(w, http.StatusOK, eventsResponse{Commands: commands, Mode: mode})
}

func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	s, ok := h.ownedSession(w, r, rid)
	if !ok {
		return
	}
	status, err := s.Status()
	if err != nil {
		h.writeSessionError(w, rid, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, status)
}

type progressResponse struct {
	Content session.ProgressView `json:"content"`
	Ad      session.ProgressView `json:"ad"`
}

func (h *SessionHandler) Progress(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	s, ok := h.ownedSession(w, r, rid)
	if !ok {
		return
	}
	content, ad, err := s.Progress()
	if err != nil {
		h.writeSessionError(w, rid, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, progressResponse{Content: content, Ad: ad})
}

type historyItem struct {
	EventID    string          `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func (h *SessionHandler) HistoryList(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	if h.History == nil {
		api.WriteError(w, http.StatusServiceUnavailable, "HISTORY_DISABLED",
			"Snapshot history is not configured", rid, nil)
		return
	}
	s, ok := h.ownedSession(w, r, rid)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			api.BadRequest(w, "INVALID_LIMIT", "limit must be in [1,200]", rid, nil)
			return
		}
		limit = n
	}
	recs, err := h.History.ListBySession(r.Context(), s.ID, limit)
	if err != nil {
		h.Log.Error("list history", zap.Error(err))
		api.Internal(w, rid)
		return
	}
	items := make([]historyItem, len(recs))
	for i, rec := range recs {
		items[i] = historyItem{
			EventID:    rec.EventID.String(),
			OccurredAt: rec.OccurredAt,
			Payload:    json.RawMessage(rec.Payload),
		}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"snapshots": items})
}

func (h *SessionHandler) Detach(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	s, ok := h.ownedSession(w, r, rid)
	if !ok {
		return
	}
	if err := s.Detach(); err != nil {
		h.writeSessionError(w, rid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Attach(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	s, ok := h.ownedSession(w, r, rid)
	if !ok {
		return
	}
	if err := s.Attach(); err != nil {
		h.writeSessionError(w, rid, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	s, ok := h.ownedSession(w, r, rid)
	if !ok {
		return
	}
	h.release(s.ID)
	w.WriteHeader(http.StatusNoContent)
}

// AdminRelease force-releases any session regardless of ownership. Guarded
// by the admin token middleware.
func (h *SessionHandler) AdminRelease(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if _, ok := h.Manager.Get(id); !ok {
		api.NotFound(w, "SESSION_NOT_FOUND", "No such session", rid)
		return
	}
	h.release(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) release(id string) {
	if h.Manager.Release(id) {
		h.Log.Info("session released", zap.String("session_id", id))
		h.Events.Publish(analytics.SubjectSessionReleased, "session_released", id, nil)
	}
}

func (h *SessionHandler) ownedSession(w http.ResponseWriter, r *http.Request, rid string) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	s, ok := h.Manager.Get(id)
	if !ok {
		api.NotFound(w, "SESSION_NOT_FOUND", "No such session", rid)
		return nil, false
	}
	uid, _ := auth.UserIDFromContext(r.Context())
	if s.Owner != uid {
		api.Forbidden(w, "NOT_OWNER", "Session belongs to another client", rid)
		return nil, false
	}
	return s, true
}

func (h *SessionHandler) writeSessionError(w http.ResponseWriter, rid string, err error) {
	if errors.Is(err, session.ErrReleased) {
		api.Gone(w, "SESSION_RELEASED", "Session has been released", rid)
		return
	}
	h.Log.Error("session operation failed", zap.Error(err))
	api.Internal(w, rid)
}
