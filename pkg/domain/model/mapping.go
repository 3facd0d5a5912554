package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/takakanai/github-issue-linker/pkg/domain/types"
	"github.com/takakanai/github-issue-linker/pkg/scan"
)

// RepositoryMapping binds an issue key prefix observed inside a repository's
// pages to the tracker that hosts those issues. Many mappings may share a
// repository (multiple prefixes) or a tracker URL. Identity is the generated
// ID, not (repository, prefix).
type RepositoryMapping struct {
	ID         types.MappingID `json:"id" toml:"id"`
	Repository string          `json:"repository" toml:"repository" validate:"required,contains=/"`
	TrackerURL string          `json:"tracker_url" toml:"tracker_url" validate:"required"`
	KeyPrefix  string          `json:"key_prefix" toml:"key_prefix" validate:"required"`
	Enabled    bool            `json:"enabled" toml:"enabled"`
	CreatedAt  time.Time       `json:"created_at" toml:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" toml:"updated_at"`
}

// NewRepositoryMapping creates an enabled mapping with a generated ID
func NewRepositoryMapping(repository, trackerURL, keyPrefix string) RepositoryMapping {
	now := time.Now()
	return RepositoryMapping{
		ID:         types.MappingID(uuid.NewString()),
		Repository: repository,
		TrackerURL: trackerURL,
		KeyPrefix:  keyPrefix,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Validate checks the mapping invariants: an owner/name repository, an https
// tracker URL, and a well-formed key prefix. Mappings are validated at
// configuration time so the scanning pipeline never sees a malformed one.
func (m *RepositoryMapping) Validate() error {
	if owner, name, ok := strings.Cut(m.Repository, "/"); !ok || owner == "" || name == "" {
		return goerr.New("repository must be owner/name", goerr.V("repository", m.Repository))
	}
	if !scan.ValidateURL(m.TrackerURL) {
		return goerr.New("tracker URL must be https", goerr.V("tracker_url", m.TrackerURL))
	}
	if !scan.ValidKeyPrefix(m.KeyPrefix) {
		return goerr.New("invalid key prefix", goerr.V("key_prefix", m.KeyPrefix))
	}
	return nil
}
