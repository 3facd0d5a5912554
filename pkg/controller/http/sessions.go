package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/takakanai/github-issue-linker/pkg/domain/model"
	"github.com/takakanai/github-issue-linker/pkg/domain/types"
	"github.com/takakanai/github-issue-linker/pkg/usecase"
)

// sessionHandler serves the page-session lifecycle: open, mutations,
// navigation signals, visibility reports, detections, close.
type sessionHandler struct {
	sessions *usecase.SessionManager
	validate *validator.Validate
}

func newSessionHandler(sessions *usecase.SessionManager, validate *validator.Validate) *sessionHandler {
	return &sessionHandler{sessions: sessions, validate: validate}
}

type openSessionRequest struct {
	URL  string `json:"url" validate:"required,url"`
	HTML string `json:"html" validate:"required"`
}

type openSessionResponse struct {
	SessionID  types.SessionID       `json:"session_id"`
	Detections []model.DetectedKey   `json:"detections"`
	Mode       model.PerformanceMode `json:"mode"`
}

func (h *sessionHandler) handleOpen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, goerr.Wrap(err, "invalid JSON payload"), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, goerr.Wrap(err, "invalid session request"), http.StatusBadRequest)
		return
	}

	sess, err := h.sessions.Open(ctx, req.URL, req.HTML)
	if err != nil {
		ctxlog.From(ctx).Error("failed to open session", "error", err)
		writeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, &openSessionResponse{
		SessionID:  sess.ID,
		Detections: sess.Linker.Detections(),
		Mode:       sess.Linker.Mode(),
	})
}

func (h *sessionHandler) handleClose(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(chi.URLParam(r, "sessionID"))
	if !h.sessions.Close(id) {
		writeError(w, goerr.New("session not found"), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (h *sessionHandler) session(w http.ResponseWriter, r *http.Request) *usecase.Session {
	id := types.SessionID(chi.URLParam(r, "sessionID"))
	sess := h.sessions.Get(id)
	if sess == nil {
		writeError(w, goerr.New("session not found"), http.StatusNotFound)
		return nil
	}
	return sess
}

type mutationsRequest struct {
	Fragments []string `json:"fragments" validate:"required,min=1"`
	URL       string   `json:"url"`
}

func (h *sessionHandler) handleMutations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := h.session(w, r)
	if sess == nil {
		return
	}

	var req mutationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, goerr.Wrap(err, "invalid JSON payload"), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, goerr.Wrap(err, "invalid mutation request"), http.StatusBadRequest)
		return
	}

	if err := sess.ApplyMutations(ctx, req.Fragments, req.URL); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type navigationRequest struct {
	URL    string `json:"url" validate:"required,url"`
	Source string `json:"source" validate:"omitempty,oneof=history popstate mutation poll"`
	HTML   string `json:"html"`
}

func (h *sessionHandler) handleNavigation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := h.session(w, r)
	if sess == nil {
		return
	}

	var req navigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, goerr.Wrap(err, "invalid JSON payload"), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, goerr.Wrap(err, "invalid navigation request"), http.StatusBadRequest)
		return
	}

	source := model.NavigationSource(req.Source)
	if source == "" {
		source = model.NavHistory
	}
	if err := sess.Navigate(ctx, model.NavigationEvent{URL: req.URL, Source: source}, req.HTML); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type visibilityRequest struct {
	ElementID string `json:"element_id" validate:"required"`
}

func (h *sessionHandler) handleVisibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := h.session(w, r)
	if sess == nil {
		return
	}

	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, goerr.Wrap(err, "invalid JSON payload"), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, goerr.Wrap(err, "invalid visibility request"), http.StatusBadRequest)
		return
	}

	if err := sess.Linker.MarkVisible(ctx, req.ElementID); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending": sess.Linker.PendingVisibility()})
}

type detectionsResponse struct {
	Detections []model.DetectedKey `json:"detections"`
	Count      int                 `json:"count"`
}

// handleDetections answers the coordinator's "current detection list"
// request synchronously from in-memory state.
func (h *sessionHandler) handleDetections(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}
	detections := sess.Linker.Detections()
	writeJSON(w, http.StatusOK, &detectionsResponse{
		Detections: detections,
		Count:      len(detections),
	})
}
