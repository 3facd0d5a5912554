package storage

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/takakanai/github-issue-linker/pkg/domain/model"
	"github.com/takakanai/github-issue-linker/pkg/domain/types"
)

// fileMapping is the TOML shape of one mapping. Enabled is a pointer so an
// absent field defaults to true rather than TOML's zero value.
type fileMapping struct {
	ID         string `toml:"id"`
	Repository string `toml:"repository"`
	TrackerURL string `toml:"tracker_url"`
	KeyPrefix  string `toml:"key_prefix"`
	Enabled    *bool  `toml:"enabled"`
}

type mappingFile struct {
	Mappings []fileMapping `toml:"mappings"`
}

// LoadMappingFile reads repository mappings from a TOML file. Missing ids
// are minted, and every entry is validated; a single malformed entry fails
// the whole load so a typo cannot silently drop a mapping.
func LoadMappingFile(path string) ([]model.RepositoryMapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read mapping file", goerr.V("path", path))
	}

	var file mappingFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, goerr.Wrap(err, "failed to parse mapping file", goerr.V("path", path))
	}

	now := time.Now()
	mappings := make([]model.RepositoryMapping, 0, len(file.Mappings))
	for i, fm := range file.Mappings {
		m := model.RepositoryMapping{
			ID:         types.MappingID(fm.ID),
			Repository: fm.Repository,
			TrackerURL: fm.TrackerURL,
			KeyPrefix:  fm.KeyPrefix,
			Enabled:    fm.Enabled == nil || *fm.Enabled,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if m.ID == "" {
			m.ID = types.MappingID(uuid.NewString())
		}
		if err := m.Validate(); err != nil {
			return nil, goerr.Wrap(err, "invalid mapping entry", goerr.V("index", i))
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

// WatchMappingFile reloads the mapping file whenever it changes and hands the
// new set to onChange. Blocks until ctx is cancelled. Reload failures are
// logged and the previous set stays active.
func WatchMappingFile(ctx context.Context, path string, onChange func([]model.RepositoryMapping)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return goerr.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return goerr.Wrap(err, "failed to watch mapping file", goerr.V("path", path))
	}

	logger := ctxlog.From(ctx)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			mappings, err := LoadMappingFile(path)
			if err != nil {
				logger.Error("failed to reload mapping file", "error", err, "path", path)
				continue
			}
			logger.Info("mapping file reloaded", "path", path, "count", len(mappings))
			onChange(mappings)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("mapping file watcher error", "error", werr)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
