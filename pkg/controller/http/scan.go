package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/takakanai/github-issue-linker/pkg/domain/model"
	"github.com/takakanai/github-issue-linker/pkg/usecase"
)

// scanHandler serves stateless one-shot page scans
type scanHandler struct {
	scanner  *usecase.PageScanner
	validate *validator.Validate
}

func newScanHandler(scanner *usecase.PageScanner, validate *validator.Validate) *scanHandler {
	return &scanHandler{scanner: scanner, validate: validate}
}

type scanRequest struct {
	URL     string `json:"url" validate:"required,url"`
	HTML    string `json:"html" validate:"required"`
	Linkify bool   `json:"linkify"`
}

type scanResponse struct {
	Detections   []model.DetectedKey   `json:"detections"`
	NodesScanned int                   `json:"nodes_scanned"`
	KeysFound    int                   `json:"keys_found"`
	Mode         model.PerformanceMode `json:"mode"`
	DurationMS   int64                 `json:"duration_ms"`
	HTML         string                `json:"html,omitempty"`
}

func (h *scanHandler) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, goerr.Wrap(err, "invalid JSON payload"), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, goerr.Wrap(err, "invalid scan request"), http.StatusBadRequest)
		return
	}

	report, rendered, err := h.scanner.Scan(ctx, usecase.ScanRequest{
		URL:     req.URL,
		HTML:    req.HTML,
		Linkify: req.Linkify,
	})
	if err != nil {
		ctxlog.From(ctx).Error("scan failed", "error", err)
		writeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, &scanResponse{
		Detections:   report.Detections,
		NodesScanned: report.NodesScanned,
		KeysFound:    report.KeysFound,
		Mode:         report.Mode,
		DurationMS:   report.DurationMS,
		HTML:         rendered,
	})
}
