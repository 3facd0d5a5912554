package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/takakanai/github-issue-linker/pkg/domain/interfaces"
	"github.com/takakanai/github-issue-linker/pkg/domain/model"
	"github.com/takakanai/github-issue-linker/pkg/domain/types"
	"github.com/takakanai/github-issue-linker/pkg/scan"
	"github.com/takakanai/github-issue-linker/pkg/utils/async"
)

// Session owns the scanning pipeline for one page load: a link processor, a
// mutation watcher, and the current parsed document.
type Session struct {
	ID      types.SessionID
	Linker  *Linker
	Watcher *Watcher

	mu  sync.Mutex
	doc *html.Node
	url string
}

func (s *Session) document() *html.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

func (s *Session) currentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// ApplyMutations parses HTML fragments observed as added subtrees and hands
// them to the watcher as one childList mutation record. pageURL is the page
// URL at observation time, feeding the mutation-triggered navigation check.
func (s *Session) ApplyMutations(ctx context.Context, fragments []string, pageURL string) error {
	var added []*html.Node
	for _, frag := range fragments {
		nodes, err := parseFragment(frag)
		if err != nil {
			return goerr.Wrap(err, "failed to parse mutation fragment")
		}
		added = append(added, nodes...)
	}

	if pageURL == "" {
		pageURL = s.currentURL()
	}
	s.Watcher.Enqueue(model.MutationRecord{
		Type:  model.MutationChildList,
		Added: added,
		URL:   pageURL,
	})
	return nil
}

// Navigate delivers a navigation signal. When the client ships the new
// page's HTML along with the signal, the session document is replaced so the
// settle-delay rescan sees the new content.
func (s *Session) Navigate(ctx context.Context, ev model.NavigationEvent, newHTML string) error {
	if newHTML != "" {
		doc, err := html.Parse(strings.NewReader(newHTML))
		if err != nil {
			return goerr.Wrap(err, "failed to parse navigation document")
		}
		s.mu.Lock()
		s.doc = doc
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.url = ev.URL
	s.mu.Unlock()

	s.Watcher.Navigate(ev)
	return nil
}

// SessionManager creates and tracks page sessions
type SessionManager struct {
	storage interfaces.Storage
	sink    interfaces.ErrorSink

	mu       sync.Mutex
	sessions map[types.SessionID]*Session
}

// NewSessionManager creates a session manager backed by the given storage
func NewSessionManager(storage interfaces.Storage, sink interfaces.ErrorSink) *SessionManager {
	return &SessionManager{
		storage:  storage,
		sink:     sink,
		sessions: map[types.SessionID]*Session{},
	}
}

// Open starts a session for a page: parses the document, derives scan
// options from its element count, loads the repository's mappings, runs the
// initial full-subtree scan, and starts the mutation watcher.
func (m *SessionManager) Open(ctx context.Context, pageURL, pageHTML string) (*Session, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse page document")
	}

	count := scan.CountElements(doc)
	linker := NewLinker(count,
		WithLinkify(),
		WithStorage(m.storage),
		WithSink(m.sink),
		WithPageURL(pageURL),
	)

	repo := model.RepoFromURL(pageURL)
	if repo != "" {
		mappings, err := m.storage.MappingsForRepository(ctx, repo)
		if err != nil {
			// degrade to an empty mapping set
			m.sink.Capture(ctx, goerr.Wrap(err, "failed to load mappings", goerr.V("repository", repo)), "session")
		} else {
			linker.SetMappings(mappings)
			cache := &model.ProcessingCache{Repository: repo, Mappings: mappings, CachedAt: time.Now()}
			if cerr := m.storage.PutProcessingCache(ctx, cache); cerr != nil {
				m.sink.Capture(ctx, goerr.Wrap(cerr, "failed to write processing cache"), "session")
			}
		}
	}

	sess := &Session{
		ID:     types.SessionID(uuid.NewString()),
		Linker: linker,
		doc:    doc,
		url:    pageURL,
	}
	sess.Watcher = NewWatcher(linker, pageURL,
		WithWatcherStorage(m.storage),
		WithWatcherSink(m.sink),
		WithURLFunc(sess.currentURL),
		WithDocumentFunc(sess.document),
	)

	if err := linker.ProcessDocument(ctx, doc); err != nil {
		return nil, goerr.Wrap(err, "initial scan failed")
	}

	async.Dispatch(ctx, func(ctx context.Context) error {
		return sess.Watcher.Run(ctx)
	})

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess, nil
}

// Get returns the session with the given id, or nil
func (m *SessionManager) Get(id types.SessionID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Close tears down one session's watcher and forgets it
func (m *SessionManager) Close(id types.SessionID) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		sess.Watcher.Close()
	}
	return ok
}

// Count reports the number of live sessions
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll tears down every session; invoked at server shutdown
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[types.SessionID]*Session{}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Watcher.Close()
	}
}

func parseFragment(frag string) ([]*html.Node, error) {
	bodyCtx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	return html.ParseFragment(strings.NewReader(frag), bodyCtx)
}
