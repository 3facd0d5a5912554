package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/m-mizutani/goerr/v2"

	"github.com/takakanai/github-issue-linker/pkg/domain/interfaces"
	"github.com/takakanai/github-issue-linker/pkg/domain/model"
	"github.com/takakanai/github-issue-linker/pkg/domain/types"
)

// mappingHandler serves repository mapping CRUD against the local storage
// tier. Pattern and URL invariants are enforced here, at configuration time,
// so the scanning pipeline never sees a malformed mapping.
type mappingHandler struct {
	store    interfaces.Storage
	validate *validator.Validate
}

func newMappingHandler(store interfaces.Storage, validate *validator.Validate) *mappingHandler {
	return &mappingHandler{store: store, validate: validate}
}

type mappingRequest struct {
	Repository string `json:"repository" validate:"required,contains=/"`
	TrackerURL string `json:"tracker_url" validate:"required,url"`
	KeyPrefix  string `json:"key_prefix" validate:"required"`
	Enabled    *bool  `json:"enabled"`
}

func (h *mappingHandler) handleList(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.store.ListMappings(r.Context())
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mappings": mappings,
		"count":    len(mappings),
	})
}

func (h *mappingHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	m := model.NewRepositoryMapping(req.Repository, req.TrackerURL, req.KeyPrefix)
	if req.Enabled != nil {
		m.Enabled = *req.Enabled
	}
	if err := m.Validate(); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	mappings, err := h.store.ListMappings(ctx)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	mappings = append(mappings, m)
	if err := h.store.PutMappings(ctx, mappings); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, &m)
}

func (h *mappingHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := types.MappingID(chi.URLParam(r, "mappingID"))

	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	mappings, err := h.store.ListMappings(ctx)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}

	for i := range mappings {
		if mappings[i].ID != id {
			continue
		}
		m := mappings[i]
		m.Repository = req.Repository
		m.TrackerURL = req.TrackerURL
		m.KeyPrefix = req.KeyPrefix
		if req.Enabled != nil {
			m.Enabled = *req.Enabled
		}
		m.UpdatedAt = time.Now()
		if err := m.Validate(); err != nil {
			writeError(w, err, http.StatusBadRequest)
			return
		}
		mappings[i] = m
		if err := h.store.PutMappings(ctx, mappings); err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, &m)
		return
	}
	writeError(w, goerr.New("mapping not found"), http.StatusNotFound)
}

func (h *mappingHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := types.MappingID(chi.URLParam(r, "mappingID"))

	mappings, err := h.store.ListMappings(ctx)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}

	kept := mappings[:0]
	for _, m := range mappings {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(mappings) {
		writeError(w, goerr.New("mapping not found"), http.StatusNotFound)
		return
	}
	if err := h.store.PutMappings(ctx, kept); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *mappingHandler) decode(w http.ResponseWriter, r *http.Request) (*mappingRequest, bool) {
	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, goerr.Wrap(err, "invalid JSON payload"), http.StatusBadRequest)
		return nil, false
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, goerr.Wrap(err, "invalid mapping request"), http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}
