package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/determined-ai/rcq/internal/jobs"
	"github.com/determined-ai/rcq/pkg/model"
)

// Filesystem answers existence checks from the jobs it has seen complete and from the cache
// directory, <cache root>/<platform>/<path>, which builders own. History and products are kept
// in memory.
type Filesystem struct {
	cacheRoot string

	mu      sync.Mutex
	history map[string][]model.JobHistory
	// products maps platform, then lower relative path, to the lower source path it was built
	// from.
	products map[string]map[string]string
}

// NewFilesystem returns a catalog over the given cache root.
func NewFilesystem(cacheRoot string) *Filesystem {
	return &Filesystem{
		cacheRoot: cacheRoot,
		history:   make(map[string][]model.JobHistory),
		products:  make(map[string]map[string]string),
	}
}

// AssetExists implements Catalog.
func (f *Filesystem) AssetExists(_ context.Context, platform, searchTerm string) (bool, error) {
	term := strings.ToLower(strings.ReplaceAll(searchTerm, `\`, "/"))
	if term == "" || platform == "" {
		return false, nil
	}

	f.mu.Lock()
	for p := range f.products[platform] {
		if p == term || strings.HasSuffix(p, "/"+term) {
			f.mu.Unlock()
			return true, nil
		}
	}
	f.mu.Unlock()

	rel := filepath.FromSlash(strings.ReplaceAll(searchTerm, `\`, "/"))
	if filepath.IsAbs(rel) || !filepath.IsLocal(rel) {
		return false, nil
	}
	info, err := os.Stat(filepath.Join(f.cacheRoot, platform, rel))
	switch {
	case os.IsNotExist(err):
		return false, nil
	case err != nil:
		return false, err
	default:
		return !info.IsDir(), nil
	}
}

// RecordJob implements Catalog.
func (f *Filesystem) RecordJob(_ context.Context, h model.JobHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.ToLower(h.SourcePath)
	entries := append([]model.JobHistory{h}, f.history[key]...)
	if len(entries) > historyLimit {
		entries = entries[:historyLimit]
	}
	f.history[key] = entries

	if h.Succeeded() {
		if f.products[h.Platform] == nil {
			f.products[h.Platform] = make(map[string]string)
		}
		f.products[h.Platform][strings.ToLower(filepath.ToSlash(h.RelativePath))] = key
	}
	return nil
}

// RemoveSource implements Catalog.
func (f *Filesystem) RemoveSource(_ context.Context, sourcePath string, folder bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, products := range f.products {
		for rel, source := range products {
			if jobs.SourceMatches(source, sourcePath, folder) {
				delete(products, rel)
			}
		}
	}
	return nil
}

// JobHistory implements Catalog.
func (f *Filesystem) JobHistory(_ context.Context, sourcePath string) ([]model.JobHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.JobHistory(nil), f.history[strings.ToLower(sourcePath)]...), nil
}

// Close implements Catalog.
func (f *Filesystem) Close() error {
	return nil
}
