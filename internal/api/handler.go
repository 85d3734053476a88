package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/sentinelx/internal/chat"
	"github.com/kalambet/sentinelx/internal/network"
	"github.com/kalambet/sentinelx/internal/router"
	"github.com/kalambet/sentinelx/internal/session"
	"github.com/kalambet/sentinelx/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const defaultListLimit = 20

type Deps struct {
	Store    *storage.Store
	Sessions *Registry
	Token    string
	Logger   *slog.Logger
}

// NewHandler returns the HTTP API. Everything except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions", handleListSessions(deps))

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", withSession(deps, handleGetSession))
			r.Delete("/", handleDeleteSession(deps))
			r.Post("/messages", withSession(deps, handleSend))
			r.Get("/messages", withSession(deps, handleHistory))
			r.Post("/agent/toggle", withSession(deps, handleToggleAgent))
			r.Post("/scanning/toggle", withSession(deps, handleToggleScanning))
			r.Put("/scale", withSession(deps, handleSelectScale))
			r.Put("/page", withSession(deps, handleSetPage))
			r.Get("/ranges", withSession(deps, handleListRanges))
			r.Post("/ranges", withSession(deps, handleAddRange))
			r.Post("/ranges/{rangeID}/inspect", withSession(deps, handleInspectRange))
			r.Post("/devices/{deviceID}/inspect", withSession(deps, handleInspectDevice))
			r.Post("/rescan", withSession(deps, handleRescan))
			r.Get("/recommendation", withSession(deps, handleRecommend))
		})
	})

	return r
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, s *chat.Session)

// withSession resolves the {id} URL parameter to a live session.
func withSession(deps Deps, h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s, err := deps.Sessions.Get(id)
		if errors.Is(err, ErrSessionNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session %s not found", id)
			return
		}
		if err != nil {
			deps.Logger.Error("failed to load session", "session", id, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load session: %v", err)
			return
		}
		h(w, r, s)
	}
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.Counts()
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "storage unavailable: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "ok",
			"live_sessions": deps.Sessions.Live(),
			"stored":        counts,
		})
	}
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Sessions.Create()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create session: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, s.Snapshot())
	}
}

// SessionSummary is one entry of the session list.
type SessionSummary struct {
	ID        string        `json:"id"`
	State     session.State `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(w, r, defaultListLimit)
		if !ok {
			return
		}
		summaries, err := listSessions(deps.Store, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sessions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": summaries})
	}
}

func listSessions(store *storage.Store, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	stored, err := store.ListSessions(limit)
	if err != nil {
		return nil, err
	}
	summaries := make([]SessionSummary, 0, len(stored))
	for _, ss := range stored {
		scale, _ := session.ParseScale(ss.Scale)
		summaries = append(summaries, SessionSummary{
			ID: ss.ID,
			State: session.State{
				AgentActive:     ss.AgentActive,
				CLIFallback:     ss.CLIFallback,
				DiscoveryActive: ss.DiscoveryActive,
				ScanningActive:  ss.ScanningActive,
				Scale:           scale,
				Page:            ss.Page,
			},
			CreatedAt: ss.CreatedAt,
			UpdatedAt: ss.UpdatedAt,
		})
	}
	return summaries, nil
}

func handleGetSession(w http.ResponseWriter, r *http.Request, s *chat.Session) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// handleDeleteSession resets a session. With ?purge=true the session and its
// stored history are removed instead.
func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if purge, _ := strconv.ParseBool(r.URL.Query().Get("purge")); purge {
			err := deps.Sessions.Purge(id)
			if errors.Is(err, ErrSessionNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "session %s not found", id)
				return
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to delete session: %v", err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		withSession(deps, func(w http.ResponseWriter, r *http.Request, s *chat.Session) {
			if err := deps.Sessions.Reset(s); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to reset session: %v", err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})(w, r)
	}
}

type sendRequest struct {
	Input string `json:"input"`
}

// SendResponse is the reply to one chat input. Messages after the first
// arrive over time and are listed in Steps with their delays.
type SendResponse struct {
	router.Result
	State   session.State `json:"state"`
	Pending int           `json:"pending"`
}

func handleSend(w http.ResponseWriter, r *http.Request, s *chat.Session) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, ok := s.Send(req.Input)
	if !ok && s.Closed() {
		writeDomainError(w, chat.ErrClosed)
		return
	}
	if !ok {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "input is required")
		return
	}
	writeJSON(w, http.StatusOK, SendResponse{
		Result:  res,
		State:   s.State(),
		Pending: s.Pending(),
	})
}

func handleHistory(w http.ResponseWriter, r *http.Request, s *chat.Session) {
	limit, ok := parseLimit(w, r, 0)
	if !ok {
		return
	}
	msgs := s.History(limit)
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":    msgs,
		"pending": s.Pending(),
	})
}

func handleToggleAgent(w http.ResponseWriter, r *http.Request, s *chat.Session) {
	writeJSON(w, http.StatusOK, s.ToggleAgent())
}

func handleToggleScanning(w http.ResponseWriter, r *http.Request, s *chat.Session) {
	writeJSON(w, http.StatusOK, map[string]bool{"scanning_active": s.ToggleScanning()})
}

type scaleRequest struct {
	Scale string `json:"scale"`
}

func handleSelectScale(w http.ResponseWriter, r *http.Request, s *chat.Session) {
	var req scaleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sc, err := session.ParseScale(req.Scale)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	if err := s.SelectScale(sc); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

type pageRequest struct {
	Page string `json:"page"`
}

func handleSetPage(w http.ResponseWriter, r *http.Request, s *chat.Session) {
	var req pageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Page == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "page is required")
		return
	}
	s.SetPage(req.Page)
	writeJSON(w, http.StatusOK, s.State())
}

func handleListRanges(w http.ResponseWriter, r *http.Request, s *chat.Session) {
	snap := s.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"data":          snap.Ranges,
		"metrics":       snap.Metrics,
		"can_add_range": snap.CanAddRange,
	})
}

type rangeRequest struct {
	Name         string `json:"name"`
	CIDR         string `json:"cidr"`
	Location     string `json:"location"`
	Organization string `json:"organization"`
}

func handleAddRange(w http.ResponseWriter, r *http.Request, s *chat.Session) {
	var req rangeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	added, err := s.AddRange(network.NewRange{
		Name:         req.Name,
		CIDR:         req.CIDR,
		Location:     req.Location,
		Organization: req.Organization,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func handleInspectRange(w http.ResponseWriter, r *http.Request, s *chat.Session) {
	if err := s.InspectRange(chi.URLParam(r, "rangeID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"pending": s.Pending()})
}

func handleInspectDevice(w http.ResponseWriter, r *http.Request, s *chat.Session) {
	if err := s.InspectDevice(chi.URLParam(r, "deviceID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"pending": s.Pending()})
}

func handleRescan(w http.ResponseWriter, r *http.Request, s *chat.Session) {
	if err := s.Rescan(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"pending": s.Pending()})
}

func handleRecommend(w http.ResponseWriter, r *http.Request, s *chat.Session) {
	writeJSON(w, http.StatusOK, s.Recommend())
}

// writeDomainError maps inventory errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, network.ErrMissingField), errors.Is(err, network.ErrInvalidCIDR):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, network.ErrNoScale), errors.Is(err, network.ErrRangeLimit), errors.Is(err, chat.ErrClosed):
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
	case errors.Is(err, network.ErrUnknownRange), errors.Is(err, network.ErrUnknownDevice):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// parseLimit reads the optional ?limit= parameter.
func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
