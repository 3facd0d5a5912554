package http

import (
	"encoding/json"
	"net/http"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/takakanai/github-issue-linker/pkg/domain/interfaces"
	"github.com/takakanai/github-issue-linker/pkg/domain/model"
)

// preferencesHandler serves the sync-tier preferences object
type preferencesHandler struct {
	store interfaces.Storage
}

func newPreferencesHandler(store interfaces.Storage) *preferencesHandler {
	return &preferencesHandler{store: store}
}

func (h *preferencesHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prefs, err := h.store.GetPreferences(ctx)
	if err != nil {
		// degrade to defaults rather than failing the read
		ctxlog.From(ctx).Warn("failed to read preferences, using defaults", "error", err)
		prefs = model.DefaultPreferences()
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *preferencesHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var prefs model.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, goerr.Wrap(err, "invalid JSON payload"), http.StatusBadRequest)
		return
	}
	switch prefs.PerformanceMode {
	case model.ModeComprehensive, model.ModeAuto, model.ModeFast:
	default:
		writeError(w, goerr.New("invalid performance mode", goerr.V("mode", prefs.PerformanceMode)), http.StatusBadRequest)
		return
	}

	if err := h.store.PutPreferences(ctx, &prefs); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, &prefs)
}
