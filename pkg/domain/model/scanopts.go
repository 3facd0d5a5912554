package model

import "time"

// PerformanceMode selects how aggressively a page is scanned
type PerformanceMode string

const (
	// ModeComprehensive scans everything synchronously on small pages
	ModeComprehensive PerformanceMode = "comprehensive"
	// ModeAuto balances latency and throughput on medium pages
	ModeAuto PerformanceMode = "auto"
	// ModeFast defers traversal work and caps batch sizes on large pages
	ModeFast PerformanceMode = "fast"
)

// ScanOptions is derived once from a live element count when the link
// processor is constructed, and is not revisited except for the one-way
// downgrade to ModeFast when a scan overruns MaxProcessingTime.
type ScanOptions struct {
	PerformanceMode       PerformanceMode `json:"performance_mode"`
	MaxProcessingTime     time.Duration   `json:"max_processing_time"`
	BatchSize             int             `json:"batch_size"`
	UseVisibilityDeferral bool            `json:"use_visibility_deferral"`
}
