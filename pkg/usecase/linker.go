package usecase

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/takakanai/github-issue-linker/pkg/domain/interfaces"
	"github.com/takakanai/github-issue-linker/pkg/domain/model"
	"github.com/takakanai/github-issue-linker/pkg/scan"
	"github.com/takakanai/github-issue-linker/pkg/utils/async"
)

// mappingPattern pairs a mapping with its compiled key pattern
type mappingPattern struct {
	mapping model.RepositoryMapping
	re      *regexp.Regexp
}

// spanMatch is one physical match inside a text node, kept for linkification
type spanMatch struct {
	scan.Match
	mapping model.RepositoryMapping
}

// Linker is the link processor: it orchestrates batched scanning of
// subtrees, matches mapping patterns against text, deduplicates detections,
// and optionally rewrites matches into anchor elements. One instance exists
// per page load; it owns the mapping snapshot and the detection set.
type Linker struct {
	sched *scheduler
	vis   *visibilityQueue

	mu           sync.Mutex
	mappings     []mappingPattern
	detections   map[string]model.DetectedKey
	scannedNodes int

	storage interfaces.Storage
	sink    interfaces.ErrorSink
	linkify bool
	pageURL string

	// syncFast forces fast-mode scans to run synchronously. One-shot
	// callers (CLI, tests) have no idle loop to defer into.
	syncFast bool
}

// LinkerOption configures a Linker
type LinkerOption func(*Linker)

// WithLinkify enables rewriting matched text into anchor elements
func WithLinkify() LinkerOption {
	return func(l *Linker) { l.linkify = true }
}

// WithStorage sets the storage used as the performance metric sink
func WithStorage(st interfaces.Storage) LinkerOption {
	return func(l *Linker) { l.storage = st }
}

// WithSink sets the error sink for per-element processing failures
func WithSink(s interfaces.ErrorSink) LinkerOption {
	return func(l *Linker) { l.sink = s }
}

// WithYield overrides the between-batch yield, used by tests to count
// yield points.
func WithYield(yield func()) LinkerOption {
	return func(l *Linker) { l.sched.yield = yield }
}

// WithScanOptions overrides the options derived from the element count
func WithScanOptions(opts model.ScanOptions) LinkerOption {
	return func(l *Linker) { l.sched.opts = opts }
}

// WithPageURL records the page URL on emitted metrics
func WithPageURL(u string) LinkerOption {
	return func(l *Linker) { l.pageURL = u }
}

// WithSynchronousScan disables the fast-mode idle deferral
func WithSynchronousScan() LinkerOption {
	return func(l *Linker) { l.syncFast = true }
}

// NewLinker creates a link processor for a page with the given live element
// count. Scan options are derived once from the count and never revisited,
// except for the one-way downgrade to fast mode.
func NewLinker(elementCount int, opts ...LinkerOption) *Linker {
	l := &Linker{
		sched:      newScheduler(OptionsForElementCount(elementCount), nil),
		vis:        newVisibilityQueue(),
		detections: map[string]model.DetectedKey{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetMappings atomically replaces the active mapping set. Disabled or
// invalid mappings are dropped here so the scanning pipeline never sees a
// malformed pattern. Scans already in flight keep their snapshot.
func (l *Linker) SetMappings(mappings []model.RepositoryMapping) {
	compiled := make([]mappingPattern, 0, len(mappings))
	for _, m := range mappings {
		if !m.Enabled {
			continue
		}
		if err := m.Validate(); err != nil {
			l.capture(context.Background(), goerr.Wrap(err, "rejecting mapping", goerr.V("id", m.ID)))
			continue
		}
		re, err := scan.GeneratePattern(m.KeyPrefix)
		if err != nil {
			l.capture(context.Background(), err)
			continue
		}
		compiled = append(compiled, mappingPattern{mapping: m, re: re})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.mappings = compiled
}

func (l *Linker) snapshot() []mappingPattern {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mappings
}

// ProcessElement scans the subtree rooted at n. No-op when no mappings are
// configured or n sits inside an excluded container; the root-level
// exclusion check rejects mutations inside excluded regions without
// enumerating their text nodes.
func (l *Linker) ProcessElement(ctx context.Context, n *html.Node) error {
	maps := l.snapshot()
	if len(maps) == 0 {
		return nil
	}
	if scan.Excluded(n) {
		return nil
	}
	if l.sched.deferToVisibility() && n.Type == html.ElementNode {
		l.vis.register(n)
		return nil
	}
	return l.scanSubtree(ctx, n, maps)
}

// ProcessDocument runs the full-subtree scan of the page's main content
// region (the main landmark, falling back to body). Under visibility
// deferral, top-level candidates are registered instead of scanned.
func (l *Linker) ProcessDocument(ctx context.Context, doc *html.Node) error {
	maps := l.snapshot()
	if len(maps) == 0 {
		return nil
	}
	root := scan.FindMain(doc)
	if scan.Excluded(root) {
		return nil
	}
	if l.sched.deferToVisibility() {
		for c := root.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && !scan.Excluded(c) {
				l.vis.register(c)
			}
		}
		return nil
	}
	return l.scanSubtree(ctx, root, maps)
}

// MarkVisible scans the deferred elements whose id attribute matches,
// exactly once each; scanned elements are deregistered.
func (l *Linker) MarkVisible(ctx context.Context, id string) error {
	maps := l.snapshot()
	for _, n := range l.vis.markVisible(id) {
		if err := l.scanSubtree(ctx, n, maps); err != nil {
			return err
		}
	}
	return nil
}

// FlushDeferred scans everything still pending in the visibility queue
func (l *Linker) FlushDeferred(ctx context.Context) error {
	maps := l.snapshot()
	for _, n := range l.vis.flush() {
		if err := l.scanSubtree(ctx, n, maps); err != nil {
			return err
		}
	}
	return nil
}

// PendingVisibility reports how many elements await a visibility report
func (l *Linker) PendingVisibility() int { return l.vis.len() }

// Mode reports the current performance mode, after any downgrade
func (l *Linker) Mode() model.PerformanceMode { return l.sched.mode() }

// NodesScanned reports the total number of text nodes scanned so far
func (l *Linker) NodesScanned() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scannedNodes
}

// Detections returns a copy of the accumulated detection set, ordered by key
func (l *Linker) Detections() []model.DetectedKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.DetectedKey, 0, len(l.detections))
	for _, d := range l.detections {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Reset clears the detection set. Called on every navigation; results from
// a stale in-flight scan insert into the superseded set harmlessly.
func (l *Linker) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detections = map[string]model.DetectedKey{}
}

// scanSubtree scans now or, in fast mode, defers the traversal work to a
// background task so the host stays responsive.
func (l *Linker) scanSubtree(ctx context.Context, root *html.Node, maps []mappingPattern) error {
	if l.sched.mode() == model.ModeFast && !l.syncFast {
		async.Dispatch(ctx, func(ctx context.Context) error {
			return l.runScan(ctx, root, maps)
		})
		return nil
	}
	return l.runScan(ctx, root, maps)
}

func (l *Linker) runScan(ctx context.Context, root *html.Node, maps []mappingPattern) error {
	start := time.Now()

	var nodes []*html.Node
	for n := range scan.TextNodes(root) {
		nodes = append(nodes, n)
	}
	l.mu.Lock()
	l.scannedNodes += len(nodes)
	l.mu.Unlock()

	found := 0
	l.sched.forEachBatch(len(nodes), func(i int) {
		if err := l.processTextNode(nodes[i], maps, &found); err != nil {
			l.capture(ctx, err)
		}
	})

	// Existing-link pass: keys the page already renders as clickable text
	// surface as detections without creating new anchors.
	for a := range scan.Anchors(root) {
		if err := l.harvestAnchor(a, maps, &found); err != nil {
			l.capture(ctx, err)
		}
	}

	elapsed := time.Since(start)
	l.sched.noteElapsed(elapsed)
	l.writeMetric(ctx, len(nodes), found, elapsed)
	return nil
}

// processTextNode matches every configured mapping against one text node.
// A panic here is converted to an error so one bad node cannot halt the
// batch.
func (l *Linker) processTextNode(n *html.Node, maps []mappingPattern, found *int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = goerr.New("panic while processing text node", goerr.V("recover", r))
		}
	}()

	var spans []spanMatch
	for _, mp := range maps {
		for _, m := range scan.FindMatches(mp.re, n.Data) {
			if l.insert(m.Text, mp.mapping) {
				*found++
			}
			if l.linkify {
				spans = append(spans, spanMatch{Match: m, mapping: mp.mapping})
			}
		}
	}

	if l.linkify && len(spans) > 0 {
		l.spliceLinks(n, spans)
	}
	return nil
}

// harvestAnchor extracts keys already rendered as link text
func (l *Linker) harvestAnchor(a *html.Node, maps []mappingPattern, found *int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = goerr.New("panic while processing anchor", goerr.V("recover", r))
		}
	}()

	text := scan.Text(a)
	for _, mp := range maps {
		for _, m := range scan.FindMatches(mp.re, text) {
			if l.insert(m.Text, mp.mapping) {
				*found++
			}
		}
	}
	return nil
}

// insert adds a detection unless the key text is already present.
// Uniqueness-checked insertion keeps interleaved scans idempotent.
func (l *Linker) insert(key string, m model.RepositoryMapping) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.detections[key]; ok {
		return false
	}
	l.detections[key] = model.DetectedKey{Key: key, Mapping: m}
	return true
}

// spliceLinks replaces the matched substrings of a text node with anchor
// elements. The replacement is built as individual text and anchor nodes
// inserted as siblings; untrusted text is never assembled into markup and
// reparsed.
func (l *Linker) spliceLinks(n *html.Node, spans []spanMatch) {
	parent := n.Parent
	if parent == nil {
		return
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	cur := 0
	var replacement []*html.Node
	for _, sp := range spans {
		if sp.Start < cur {
			// overlapping match from another mapping, already consumed
			continue
		}
		if sp.Start > cur {
			replacement = append(replacement, &html.Node{Type: html.TextNode, Data: n.Data[cur:sp.Start]})
		}
		anchor := &html.Node{
			Type:     html.ElementNode,
			Data:     "a",
			DataAtom: atom.A,
			Attr: []html.Attribute{
				{Key: "href", Val: scan.GenerateURL(sp.Text, sp.mapping.TrackerURL)},
				{Key: "target", Val: "_blank"},
				{Key: "rel", Val: "noopener noreferrer"},
			},
		}
		anchor.AppendChild(&html.Node{Type: html.TextNode, Data: sp.Text})
		replacement = append(replacement, anchor)
		cur = sp.End
	}
	if cur < len(n.Data) {
		replacement = append(replacement, &html.Node{Type: html.TextNode, Data: n.Data[cur:]})
	}

	for _, r := range replacement {
		parent.InsertBefore(r, n)
	}
	parent.RemoveChild(n)
}

func (l *Linker) writeMetric(ctx context.Context, scanned, found int, elapsed time.Duration) {
	if l.storage == nil {
		return
	}
	metric := model.PerformanceMetric{
		ScannedNodes: scanned,
		KeysFound:    found,
		DurationMS:   elapsed.Milliseconds(),
		Mode:         l.sched.mode(),
		PageURL:      l.pageURL,
		RecordedAt:   time.Now(),
	}
	if err := l.storage.AppendMetric(ctx, metric); err != nil {
		// best effort: failed writes are logged, never retried
		ctxlog.From(ctx).Warn("failed to write performance metric", "error", err)
	}
}

func (l *Linker) capture(ctx context.Context, err error) {
	if l.sink != nil {
		l.sink.Capture(ctx, err, "linker")
		return
	}
	ctxlog.From(ctx).Error("processing error", "error", err)
}
