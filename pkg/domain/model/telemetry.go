package model

import "time"

// Preferences is the small sync-tier settings object replicated across the
// user's devices.
type Preferences struct {
	Enabled           bool            `json:"enabled"`
	Theme             string          `json:"theme"`
	ShowNotifications bool            `json:"show_notifications"`
	PerformanceMode   PerformanceMode `json:"performance_mode"`
	Language          string          `json:"language"`
}

// DefaultPreferences returns the values substituted when the sync tier is
// empty or unreadable.
func DefaultPreferences() *Preferences {
	return &Preferences{
		Enabled:           true,
		Theme:             "system",
		ShowNotifications: true,
		PerformanceMode:   ModeAuto,
		Language:          "en",
	}
}

// PerformanceMetric is one local-tier observability record written after a
// scan. ScannedNodes counts text nodes scanned, not keys found: the
// node-scanned definition keeps the denominator stable across pages whose
// content happens to contain no keys.
type PerformanceMetric struct {
	ScannedNodes int             `json:"scanned_nodes"`
	KeysFound    int             `json:"keys_found"`
	DurationMS   int64           `json:"duration_ms"`
	Mode         PerformanceMode `json:"mode"`
	PageURL      string          `json:"page_url,omitempty"`
	RecordedAt   time.Time       `json:"recorded_at"`
}

// ErrorLog is one session-tier error record. Written by the core as a
// write-only sink; never read back by the scanning pipeline.
type ErrorLog struct {
	Message    string    `json:"message"`
	Component  string    `json:"component"`
	PageURL    string    `json:"page_url,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ProcessingCache is the session-tier per-repository cache entry, cleared
// when the user navigates away from the repository.
type ProcessingCache struct {
	Repository string              `json:"repository"`
	Mappings   []RepositoryMapping `json:"mappings"`
	CachedAt   time.Time           `json:"cached_at"`
}
