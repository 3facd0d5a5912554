package model

import "github.com/takakanai/github-issue-linker/pkg/scan"

// DetectedKey is one observed issue key occurrence tied to the mapping whose
// pattern produced it. The detection set is keyed by the match text, so one
// physical key is associated with at most one mapping even when several
// mappings' patterns could match it.
type DetectedKey struct {
	Key     string            `json:"key"`
	Mapping RepositoryMapping `json:"mapping"`
}

// URL returns the tracker URL for this key
func (d *DetectedKey) URL() string {
	return scan.GenerateURL(d.Key, d.Mapping.TrackerURL)
}

// ScanReport summarizes one scan pass over a subtree
type ScanReport struct {
	Detections   []DetectedKey   `json:"detections"`
	NodesScanned int             `json:"nodes_scanned"`
	KeysFound    int             `json:"keys_found"`
	Mode         PerformanceMode `json:"mode"`
	DurationMS   int64           `json:"duration_ms"`
}
