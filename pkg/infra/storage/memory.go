// Package storage provides the three durability tiers the extension
// persists into, backed by process memory. The sync tier holds the small
// replicated preferences object, the local tier holds mappings and
// performance metrics, and the session tier holds error logs and
// per-repository processing caches.
package storage

import (
	"context"
	"sync"

	"github.com/takakanai/github-issue-linker/pkg/domain/model"
)

const (
	maxMappings  = 1000
	maxMetrics   = 100
	maxErrorLogs = 50
)

// Memory is an in-memory implementation of interfaces.Storage
type Memory struct {
	mu sync.Mutex

	// sync tier
	prefs *model.Preferences

	// local tier
	mappings []model.RepositoryMapping
	metrics  []model.PerformanceMetric

	// session tier
	errorLogs []model.ErrorLog
	caches    map[string]*model.ProcessingCache
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		caches: map[string]*model.ProcessingCache{},
	}
}

// GetPreferences returns the stored preferences, or defaults when unset
func (s *Memory) GetPreferences(ctx context.Context) (*model.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs == nil {
		return model.DefaultPreferences(), nil
	}
	copied := *s.prefs
	return &copied, nil
}

// PutPreferences stores the preferences object
func (s *Memory) PutPreferences(ctx context.Context, prefs *model.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *prefs
	s.prefs = &copied
	return nil
}

// ListMappings returns every stored mapping
func (s *Memory) ListMappings(ctx context.Context) ([]model.RepositoryMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.RepositoryMapping, len(s.mappings))
	copy(out, s.mappings)
	return out, nil
}

// MappingsForRepository returns the enabled mappings for one repository
func (s *Memory) MappingsForRepository(ctx context.Context, repository string) ([]model.RepositoryMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.RepositoryMapping
	for _, m := range s.mappings {
		if m.Repository == repository && m.Enabled {
			out = append(out, m)
		}
	}
	return out, nil
}

// PutMappings replaces the mapping list. Entries beyond the tier cap are
// silently truncated.
func (s *Memory) PutMappings(ctx context.Context, mappings []model.RepositoryMapping) error {
	if len(mappings) > maxMappings {
		mappings = mappings[:maxMappings]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = make([]model.RepositoryMapping, len(mappings))
	copy(s.mappings, mappings)
	return nil
}

// AppendMetric appends to the rolling window of performance records
func (s *Memory) AppendMetric(ctx context.Context, metric model.PerformanceMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, metric)
	if len(s.metrics) > maxMetrics {
		s.metrics = s.metrics[len(s.metrics)-maxMetrics:]
	}
	return nil
}

// ListMetrics returns the rolling metric window, oldest first
func (s *Memory) ListMetrics(ctx context.Context) ([]model.PerformanceMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PerformanceMetric, len(s.metrics))
	copy(out, s.metrics)
	return out, nil
}

// AppendErrorLog appends to the rolling window of error records
func (s *Memory) AppendErrorLog(ctx context.Context, entry model.ErrorLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorLogs = append(s.errorLogs, entry)
	if len(s.errorLogs) > maxErrorLogs {
		s.errorLogs = s.errorLogs[len(s.errorLogs)-maxErrorLogs:]
	}
	return nil
}

// ListErrorLogs returns the rolling error window, oldest first
func (s *Memory) ListErrorLogs(ctx context.Context) ([]model.ErrorLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ErrorLog, len(s.errorLogs))
	copy(out, s.errorLogs)
	return out, nil
}

// GetProcessingCache returns the cache entry for a repository, or nil
func (s *Memory) GetProcessingCache(ctx context.Context, repository string) (*model.ProcessingCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cache, ok := s.caches[repository]
	if !ok {
		return nil, nil
	}
	copied := *cache
	return &copied, nil
}

// PutProcessingCache stores a repository's cache entry
func (s *Memory) PutProcessingCache(ctx context.Context, cache *model.ProcessingCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cache
	s.caches[cache.Repository] = &copied
	return nil
}

// ClearProcessingCache drops one repository's cache entry
func (s *Memory) ClearProcessingCache(ctx context.Context, repository string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.caches, repository)
	return nil
}

// ClearSession empties the session tier
func (s *Memory) ClearSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorLogs = nil
	s.caches = map[string]*model.ProcessingCache{}
	return nil
}
