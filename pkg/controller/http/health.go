package http

import (
	"net/http"

	"github.com/takakanai/github-issue-linker/pkg/domain/model"
	"github.com/takakanai/github-issue-linker/pkg/domain/types"
	"github.com/takakanai/github-issue-linker/pkg/usecase"
)

// handleHealth handles health check requests
func handleHealth(sessions *usecase.SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := &model.HealthStatus{
			Status:   "healthy",
			Service:  "github-issue-linker",
			Version:  types.Version,
			Sessions: sessions.Count(),
		}
		writeJSON(w, http.StatusOK, status)
	}
}
