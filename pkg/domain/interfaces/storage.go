package interfaces

import (
	"context"

	"github.com/takakanai/github-issue-linker/pkg/domain/model"
)

// Storage abstracts the three durability tiers the extension persists into.
// The sync tier is small and replicated across devices, the local tier is
// capped per record kind, and the session tier is cleared at session end.
// Writes are best-effort: the core never retries a failed write.
type Storage interface {
	// Sync tier
	GetPreferences(ctx context.Context) (*model.Preferences, error)
	PutPreferences(ctx context.Context, prefs *model.Preferences) error

	// Local tier. PutMappings silently truncates beyond 1000 entries, and
	// AppendMetric keeps a rolling window of the last 100 records.
	ListMappings(ctx context.Context) ([]model.RepositoryMapping, error)
	MappingsForRepository(ctx context.Context, repository string) ([]model.RepositoryMapping, error)
	PutMappings(ctx context.Context, mappings []model.RepositoryMapping) error
	AppendMetric(ctx context.Context, metric model.PerformanceMetric) error
	ListMetrics(ctx context.Context) ([]model.PerformanceMetric, error)

	// Session tier. AppendErrorLog keeps a rolling window of the last 50
	// records. ClearSession empties the whole tier.
	AppendErrorLog(ctx context.Context, entry model.ErrorLog) error
	ListErrorLogs(ctx context.Context) ([]model.ErrorLog, error)
	GetProcessingCache(ctx context.Context, repository string) (*model.ProcessingCache, error)
	PutProcessingCache(ctx context.Context, cache *model.ProcessingCache) error
	ClearProcessingCache(ctx context.Context, repository string) error
	ClearSession(ctx context.Context) error
}
