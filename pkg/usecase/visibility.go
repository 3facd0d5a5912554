package usecase

import (
	"sync"

	"golang.org/x/net/html"

	"github.com/takakanai/github-issue-linker/pkg/scan"
)

// visibilityQueue holds elements whose scan is deferred until they become
// visible. Each element is scanned exactly once, the first time a visibility
// report arrives for it, and is then deregistered. Stands in for the
// viewport-intersection watcher of the browser host.
type visibilityQueue struct {
	mu      sync.Mutex
	pending []*html.Node
}

func newVisibilityQueue() *visibilityQueue {
	return &visibilityQueue{}
}

// register queues n for visibility-triggered scanning. Re-registering an
// already pending element is a no-op.
func (q *visibilityQueue) register(n *html.Node) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.pending {
		if p == n {
			return
		}
	}
	q.pending = append(q.pending, n)
}

// markVisible pops and returns the pending elements whose id attribute
// matches. Elements without an id are only released by flush.
func (q *visibilityQueue) markVisible(id string) []*html.Node {
	if id == "" {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var matched, rest []*html.Node
	for _, n := range q.pending {
		if scan.Attr(n, "id") == id {
			matched = append(matched, n)
		} else {
			rest = append(rest, n)
		}
	}
	q.pending = rest
	return matched
}

// flush pops and returns everything still pending
func (q *visibilityQueue) flush() []*html.Node {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

func (q *visibilityQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
