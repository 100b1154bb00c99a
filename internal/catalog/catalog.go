// Package catalog answers whether an asset has already been built and keeps the history of
// finished jobs.
package catalog

import (
	"context"

	"github.com/pkg/errors"

	"github.com/determined-ai/rcq/internal/config"
	"github.com/determined-ai/rcq/internal/db"
	"github.com/determined-ai/rcq/pkg/model"
)

// historyLimit bounds how many history entries JobHistory returns.
const historyLimit = 32

// Catalog is the store of what has been built.
type Catalog interface {
	// AssetExists reports whether a product for the search term exists on the platform. It
	// resolves requests the scheduler has no live job for.
	AssetExists(ctx context.Context, platform, searchTerm string) (bool, error)
	// RecordJob stores a finished job.
	RecordJob(ctx context.Context, h model.JobHistory) error
	// JobHistory returns the finished jobs of a source, newest first.
	JobHistory(ctx context.Context, sourcePath string) ([]model.JobHistory, error)
	// RemoveSource forgets the products built from a deleted source, or from every source under
	// a deleted folder. History is kept.
	RemoveSource(ctx context.Context, sourcePath string, folder bool) error
	Close() error
}

// New returns the catalog the configuration selects, instrumented with Prometheus metrics.
func New(ctx context.Context, c *config.Config) (Catalog, error) {
	cat, err := open(ctx, c)
	if err != nil {
		return nil, err
	}
	return &instrumented{inner: cat}, nil
}

func open(ctx context.Context, c *config.Config) (Catalog, error) {
	switch c.Catalog.Type {
	case config.FilesystemCatalog:
		return NewFilesystem(c.CacheRoot), nil
	case config.PostgresCatalog:
		pgDB, err := db.Connect(&c.Catalog.Postgres)
		if err != nil {
			return nil, err
		}
		if err := pgDB.Migrate(ctx); err != nil {
			_ = pgDB.Close()
			return nil, err
		}
		return NewPostgres(pgDB), nil
	case config.RedisCatalog:
		return NewRedis(ctx, &c.Catalog.Redis)
	default:
		return nil, errors.Errorf("unknown catalog type %q", c.Catalog.Type)
	}
}
