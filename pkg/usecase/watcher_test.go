package usecase_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/takakanai/github-issue-linker/pkg/domain/model"
	"github.com/takakanai/github-issue-linker/pkg/infra/storage"
	"github.com/takakanai/github-issue-linker/pkg/usecase"
)

func fragment(t *testing.T, src string) []*html.Node {
	t.Helper()
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), body)
	gt.NoError(t, err)
	return nodes
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func never(t *testing.T, wait time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if cond() {
			t.Fatal("condition unexpectedly met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startWatcher(t *testing.T, w *usecase.Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatcherProcessesDebouncedMutations(t *testing.T) {
	linker := usecase.NewLinker(500, usecase.WithSynchronousScan())
	linker.SetMappings([]model.RepositoryMapping{widgetsMapping()})

	w := usecase.NewWatcher(linker, "https://github.com/acme/widgets",
		usecase.WithDebounce(20*time.Millisecond),
	)
	startWatcher(t, w)

	w.Enqueue(model.MutationRecord{Type: model.MutationChildList, Added: fragment(t, `<p>WMS-1</p>`)})
	w.Enqueue(model.MutationRecord{Type: model.MutationAttributes})
	w.Enqueue(model.MutationRecord{Type: model.MutationChildList, Added: fragment(t, `<p>WMS-2</p>`)})

	eventually(t, func() bool { return len(linker.Detections()) == 2 })
}

func TestWatcherIgnoresNonChildListRecords(t *testing.T) {
	linker := usecase.NewLinker(500, usecase.WithSynchronousScan())
	linker.SetMappings([]model.RepositoryMapping{widgetsMapping()})

	w := usecase.NewWatcher(linker, "https://github.com/acme/widgets",
		usecase.WithDebounce(10*time.Millisecond),
	)
	startWatcher(t, w)

	w.Enqueue(model.MutationRecord{Type: model.MutationCharacter, Added: fragment(t, `<p>WMS-1</p>`)})
	w.Enqueue(model.MutationRecord{Type: model.MutationChildList})

	never(t, 100*time.Millisecond, func() bool { return len(linker.Detections()) > 0 })
}

func TestWatcherCrossRepositoryNavigation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	other := model.NewRepositoryMapping("acme/other-repo", "https://issues.acme.com", "OTH")
	gt.NoError(t, store.PutMappings(ctx, []model.RepositoryMapping{other}))
	gt.NoError(t, store.PutProcessingCache(ctx, &model.ProcessingCache{Repository: "acme/widgets"}))

	linker := usecase.NewLinker(500, usecase.WithSynchronousScan())
	linker.SetMappings([]model.RepositoryMapping{widgetsMapping()})
	gt.NoError(t, linker.ProcessDocument(ctx, parse(t, `<main><p>WMS-1</p></main>`)))
	gt.Equal(t, len(linker.Detections()), 1)

	w := usecase.NewWatcher(linker, "https://github.com/acme/widgets/pull/1",
		usecase.WithWatcherStorage(store),
		usecase.WithDebounce(10*time.Millisecond),
	)
	startWatcher(t, w)

	w.Navigate(model.NavigationEvent{
		URL:    "https://github.com/acme/other-repo/issues/7",
		Source: model.NavPopState,
	})

	// detection set cleared, old repository's cache dropped
	eventually(t, func() bool { return len(linker.Detections()) == 0 })
	eventually(t, func() bool {
		cache := gt.R1(store.GetProcessingCache(ctx, "acme/widgets")).NoError(t)
		return cache == nil
	})

	// mappings re-fetched for the new repository
	w.Enqueue(model.MutationRecord{Type: model.MutationChildList, Added: fragment(t, `<p>OTH-5 and WMS-2</p>`)})
	eventually(t, func() bool {
		d := linker.Detections()
		return len(d) == 1 && d[0].Key == "OTH-5"
	})
}

func TestWatcherSameRepositoryNavigation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	gt.NoError(t, store.PutProcessingCache(ctx, &model.ProcessingCache{Repository: "acme/widgets"}))

	linker := usecase.NewLinker(500, usecase.WithSynchronousScan())
	linker.SetMappings([]model.RepositoryMapping{widgetsMapping()})
	gt.NoError(t, linker.ProcessDocument(ctx, parse(t, `<main><p>WMS-1</p></main>`)))

	w := usecase.NewWatcher(linker, "https://github.com/acme/widgets/pull/1",
		usecase.WithWatcherStorage(store),
	)
	startWatcher(t, w)

	w.Navigate(model.NavigationEvent{
		URL:    "https://github.com/acme/widgets/pull/2",
		Source: model.NavHistory,
	})

	// visible content changed, so detections reset even within one repository
	eventually(t, func() bool { return len(linker.Detections()) == 0 })
	gt.Equal(t, w.CurrentURL(), "https://github.com/acme/widgets/pull/2")

	// same repository keeps its processing cache
	cache := gt.R1(store.GetProcessingCache(ctx, "acme/widgets")).NoError(t)
	gt.NotNil(t, cache)
}

func TestWatcherMutationURLChangeSignalsNavigation(t *testing.T) {
	ctx := context.Background()
	linker := usecase.NewLinker(500, usecase.WithSynchronousScan())
	linker.SetMappings([]model.RepositoryMapping{widgetsMapping()})
	gt.NoError(t, linker.ProcessDocument(ctx, parse(t, `<main><p>WMS-1</p></main>`)))

	w := usecase.NewWatcher(linker, "https://github.com/acme/widgets/pull/1",
		usecase.WithDebounce(10*time.Millisecond),
	)
	startWatcher(t, w)

	w.Enqueue(model.MutationRecord{
		Type: model.MutationChildList,
		URL:  "https://github.com/acme/widgets/pull/2",
	})

	eventually(t, func() bool {
		return w.CurrentURL() == "https://github.com/acme/widgets/pull/2"
	})
	gt.Equal(t, len(linker.Detections()), 0)
}

func TestWatcherPollDetectsNavigation(t *testing.T) {
	linker := usecase.NewLinker(500, usecase.WithSynchronousScan())
	linker.SetMappings([]model.RepositoryMapping{widgetsMapping()})

	var mu sync.Mutex
	current := "https://github.com/acme/widgets/pull/1"
	w := usecase.NewWatcher(linker, current,
		usecase.WithPollInterval(10*time.Millisecond),
		usecase.WithURLFunc(func() string {
			mu.Lock()
			defer mu.Unlock()
			return current
		}),
	)
	startWatcher(t, w)

	mu.Lock()
	current = "https://github.com/acme/widgets/pull/3"
	mu.Unlock()

	eventually(t, func() bool {
		return w.CurrentURL() == "https://github.com/acme/widgets/pull/3"
	})
}

func TestWatcherRescanAfterSettle(t *testing.T) {
	linker := usecase.NewLinker(500, usecase.WithSynchronousScan())
	linker.SetMappings([]model.RepositoryMapping{widgetsMapping()})

	doc := parse(t, `<main><p>WMS-9</p></main>`)
	w := usecase.NewWatcher(linker, "https://github.com/acme/widgets/pull/1",
		usecase.WithSettleDelay(10*time.Millisecond),
		usecase.WithDocumentFunc(func() *html.Node { return doc }),
	)
	startWatcher(t, w)

	w.Navigate(model.NavigationEvent{
		URL:    "https://github.com/acme/widgets/pull/2",
		Source: model.NavHistory,
	})

	eventually(t, func() bool {
		d := linker.Detections()
		return len(d) == 1 && d[0].Key == "WMS-9"
	})
}

func TestWatcherCloseStopsRun(t *testing.T) {
	linker := usecase.NewLinker(500, usecase.WithSynchronousScan())
	w := usecase.NewWatcher(linker, "https://github.com/acme/widgets")

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	w.Close()
	select {
	case err := <-done:
		gt.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after Close")
	}
}
