package usecase

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/net/html"

	"github.com/takakanai/github-issue-linker/pkg/domain/interfaces"
	"github.com/takakanai/github-issue-linker/pkg/domain/model"
	"github.com/takakanai/github-issue-linker/pkg/scan"
)

// ScanRequest is one stateless page scan
type ScanRequest struct {
	URL     string
	HTML    string
	Linkify bool
	// Mappings overrides the stored mapping set when non-empty
	Mappings []model.RepositoryMapping
}

// PageScanner runs one-shot scans over full page snapshots, outside of any
// session. Used by the stateless scan endpoint and the CLI.
type PageScanner struct {
	storage interfaces.Storage
	sink    interfaces.ErrorSink
}

// NewPageScanner creates a one-shot page scanner
func NewPageScanner(storage interfaces.Storage, sink interfaces.ErrorSink) *PageScanner {
	return &PageScanner{storage: storage, sink: sink}
}

// Scan parses the page, scans it synchronously, and returns the report plus
// the rendered document when linkification was requested.
func (s *PageScanner) Scan(ctx context.Context, req ScanRequest) (*model.ScanReport, string, error) {
	doc, err := html.Parse(strings.NewReader(req.HTML))
	if err != nil {
		return nil, "", goerr.Wrap(err, "failed to parse page document")
	}

	mappings := req.Mappings
	if len(mappings) == 0 && s.storage != nil {
		mappings, err = s.loadMappings(ctx, req.URL)
		if err != nil {
			return nil, "", err
		}
	}

	count := scan.CountElements(doc)
	opts := []LinkerOption{
		WithSynchronousScan(),
		WithPageURL(req.URL),
	}
	if req.Linkify {
		opts = append(opts, WithLinkify())
	}
	if s.storage != nil {
		opts = append(opts, WithStorage(s.storage))
	}
	if s.sink != nil {
		opts = append(opts, WithSink(s.sink))
	}
	linker := NewLinker(count, opts...)
	linker.SetMappings(mappings)

	start := time.Now()
	if err := linker.ProcessDocument(ctx, doc); err != nil {
		return nil, "", err
	}
	// One-shot scans get no visibility reports; drain the deferred queue
	if err := linker.FlushDeferred(ctx); err != nil {
		return nil, "", err
	}
	elapsed := time.Since(start)

	detections := linker.Detections()
	report := &model.ScanReport{
		Detections:   detections,
		NodesScanned: linker.NodesScanned(),
		KeysFound:    len(detections),
		Mode:         linker.Mode(),
		DurationMS:   elapsed.Milliseconds(),
	}

	var rendered string
	if req.Linkify {
		var buf bytes.Buffer
		if err := html.Render(&buf, doc); err != nil {
			return nil, "", goerr.Wrap(err, "failed to render linkified document")
		}
		rendered = buf.String()
	}
	return report, rendered, nil
}

// loadMappings resolves the mapping set for a page URL: the repository's
// mappings when the URL encodes one, every stored mapping otherwise.
func (s *PageScanner) loadMappings(ctx context.Context, pageURL string) ([]model.RepositoryMapping, error) {
	if repo := model.RepoFromURL(pageURL); repo != "" {
		mappings, err := s.storage.MappingsForRepository(ctx, repo)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load mappings", goerr.V("repository", repo))
		}
		return mappings, nil
	}
	mappings, err := s.storage.ListMappings(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list mappings")
	}
	return mappings, nil
}
