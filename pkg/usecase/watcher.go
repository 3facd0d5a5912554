package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/net/html"

	"github.com/takakanai/github-issue-linker/pkg/domain/interfaces"
	"github.com/takakanai/github-issue-linker/pkg/domain/model"
	"github.com/takakanai/github-issue-linker/pkg/utils/async"
)

const (
	defaultDebounce     = 100 * time.Millisecond
	defaultSettleDelay  = 500 * time.Millisecond
	defaultPollInterval = 2 * time.Second
)

// Watcher feeds DOM mutations and navigation signals into a link processor.
// Mutation bursts are debounced into a single batch; navigation is detected
// through several independent signals (history hook, popstate, a URL
// comparison on every mutation batch, and a fallback poll) because no single
// signal fires for every navigation pattern an SPA host might use.
type Watcher struct {
	linker  interfaces.LinkProcessor
	storage interfaces.Storage
	sink    interfaces.ErrorSink

	mutations chan model.MutationRecord
	navs      chan model.NavigationEvent

	debounce     time.Duration
	settleDelay  time.Duration
	pollInterval time.Duration

	// urlFn is the poll signal's view of the current page URL; docFn
	// provides the document to rescan after navigation settles.
	urlFn func() string
	docFn func() *html.Node

	mu         sync.Mutex
	currentURL string

	closeOnce sync.Once
	done      chan struct{}
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithWatcherStorage sets the storage used for processing cache maintenance
// and mapping fetches on repository change.
func WithWatcherStorage(st interfaces.Storage) WatcherOption {
	return func(w *Watcher) { w.storage = st }
}

// WithWatcherSink sets the error sink
func WithWatcherSink(s interfaces.ErrorSink) WatcherOption {
	return func(w *Watcher) { w.sink = s }
}

// WithDebounce overrides the 100ms mutation debounce window
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithSettleDelay overrides the post-navigation settle delay
func WithSettleDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.settleDelay = d }
}

// WithPollInterval overrides the fallback URL poll interval
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.pollInterval = d }
}

// WithURLFunc sets the poll signal's URL source
func WithURLFunc(fn func() string) WatcherOption {
	return func(w *Watcher) { w.urlFn = fn }
}

// WithDocumentFunc sets the document source for post-navigation rescans
func WithDocumentFunc(fn func() *html.Node) WatcherOption {
	return func(w *Watcher) { w.docFn = fn }
}

// NewWatcher creates a watcher bound to one link processor instance.
// initialURL is the page URL at watcher construction.
func NewWatcher(linker interfaces.LinkProcessor, initialURL string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		linker:       linker,
		mutations:    make(chan model.MutationRecord, 64),
		navs:         make(chan model.NavigationEvent, 16),
		debounce:     defaultDebounce,
		settleDelay:  defaultSettleDelay,
		pollInterval: defaultPollInterval,
		currentURL:   initialURL,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue hands an observed mutation record to the watcher. Never blocks;
// records beyond the buffer are dropped (the fallback poll and the next
// mutation batch cover the loss).
func (w *Watcher) Enqueue(rec model.MutationRecord) {
	select {
	case w.mutations <- rec:
	default:
	}
}

// Navigate delivers a navigation signal (history hook, popstate)
func (w *Watcher) Navigate(ev model.NavigationEvent) {
	select {
	case w.navs <- ev:
	default:
	}
}

// CurrentURL returns the watcher's view of the page URL
func (w *Watcher) CurrentURL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentURL
}

// Close tears down the watcher loop. Should be invoked on page unload so
// observer callbacks do not leak.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() { close(w.done) })
}

// Run drives the watcher until ctx is cancelled or Close is called
func (w *Watcher) Run(ctx context.Context) error {
	var (
		pending       []model.MutationRecord
		debounceTimer *time.Timer
		debounceC     <-chan time.Time
	)

	var poll <-chan time.Time
	if w.urlFn != nil && w.pollInterval > 0 {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case rec := <-w.mutations:
			pending = append(pending, rec)
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(w.debounce)
				debounceC = debounceTimer.C
			}

		case <-debounceC:
			batch := pending
			pending = nil
			debounceTimer = nil
			debounceC = nil
			w.flush(ctx, batch)

		case ev := <-w.navs:
			w.handleNavigation(ctx, ev)

		case <-poll:
			if u := w.urlFn(); u != w.CurrentURL() {
				w.handleNavigation(ctx, model.NavigationEvent{URL: u, Source: model.NavPoll})
			}

		case <-w.done:
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flush processes one debounce window's worth of mutation records. Only
// childList records with added nodes survive; each added element node is
// handed individually to the link processor. A mismatching record URL is the
// mutation-triggered navigation signal.
func (w *Watcher) flush(ctx context.Context, batch []model.MutationRecord) {
	for _, rec := range batch {
		if rec.URL != "" && rec.URL != w.CurrentURL() {
			w.handleNavigation(ctx, model.NavigationEvent{URL: rec.URL, Source: model.NavMutation})
		}
		if !rec.HasAddedNodes() {
			continue
		}
		for _, n := range rec.Added {
			if n.Type != html.ElementNode {
				continue
			}
			if err := w.linker.ProcessElement(ctx, n); err != nil {
				w.capture(ctx, goerr.Wrap(err, "failed to process added node"))
			}
		}
	}
}

// handleNavigation reacts to a detected URL change: the detection set is
// cleared unconditionally (visible content changed even within one
// repository), the old repository's processing cache is dropped and fresh
// mappings are fetched when the repository changed, and a rescan runs after
// the settle delay.
func (w *Watcher) handleNavigation(ctx context.Context, ev model.NavigationEvent) {
	w.mu.Lock()
	old := w.currentURL
	if ev.URL == old {
		w.mu.Unlock()
		return
	}
	w.currentURL = ev.URL
	w.mu.Unlock()

	ctxlog.From(ctx).Info("navigation detected",
		"url", ev.URL,
		"source", ev.Source,
	)

	w.linker.Reset()

	oldRepo := model.RepoFromURL(old)
	newRepo := model.RepoFromURL(ev.URL)
	if oldRepo != newRepo && w.storage != nil {
		if oldRepo != "" {
			if err := w.storage.ClearProcessingCache(ctx, oldRepo); err != nil {
				w.capture(ctx, goerr.Wrap(err, "failed to clear processing cache", goerr.V("repository", oldRepo)))
			}
		}
		if newRepo != "" {
			mappings, err := w.storage.MappingsForRepository(ctx, newRepo)
			if err != nil {
				// treat as no data available; the old snapshot stays active
				w.capture(ctx, goerr.Wrap(err, "failed to fetch mappings", goerr.V("repository", newRepo)))
			} else {
				w.linker.SetMappings(mappings)
			}
		}
	}

	if w.docFn == nil {
		return
	}
	async.DispatchAfter(ctx, w.settleDelay, func(ctx context.Context) error {
		doc := w.docFn()
		if doc == nil {
			return nil
		}
		return w.linker.ProcessDocument(ctx, doc)
	})
}

func (w *Watcher) capture(ctx context.Context, err error) {
	if w.sink != nil {
		w.sink.Capture(ctx, err, "watcher")
		return
	}
	ctxlog.From(ctx).Error("watcher error", "error", err)
}
