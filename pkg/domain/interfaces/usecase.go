package interfaces

import (
	"context"

	"golang.org/x/net/html"

	"github.com/takakanai/github-issue-linker/pkg/domain/model"
)

// LinkProcessor scans subtrees for configured issue key patterns and
// accumulates deduplicated detections until the next navigation reset.
type LinkProcessor interface {
	// SetMappings atomically replaces the active mapping set. Scans already
	// in flight keep the snapshot they captured at start.
	SetMappings(mappings []model.RepositoryMapping)

	// ProcessElement scans the subtree rooted at n, subject to the adaptive
	// scheduler's batching and deferral policy. A no-op when no mappings are
	// configured or n sits inside an excluded container.
	ProcessElement(ctx context.Context, n *html.Node) error

	// ProcessDocument runs the full-subtree scan of a page's main content
	// region, as triggered on load and after navigation.
	ProcessDocument(ctx context.Context, doc *html.Node) error

	// Detections returns the accumulated deduplicated detection set
	Detections() []model.DetectedKey

	// Reset clears the detection set; called on every navigation
	Reset()
}

// ErrorSink receives per-element processing failures. Failures are recorded
// and forgotten; nothing is retried.
type ErrorSink interface {
	Capture(ctx context.Context, err error, component string)
}
