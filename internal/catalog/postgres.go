package catalog

import (
	"context"

	"github.com/determined-ai/rcq/internal/db"
	"github.com/determined-ai/rcq/pkg/model"
)

// Postgres keeps job history in the job_history table.
type Postgres struct {
	db *db.PgDB
}

// NewPostgres returns a catalog over a migrated database.
func NewPostgres(pgDB *db.PgDB) *Postgres {
	return &Postgres{db: pgDB}
}

// AssetExists implements Catalog.
func (p *Postgres) AssetExists(ctx context.Context, platform, searchTerm string) (bool, error) {
	if searchTerm == "" {
		return false, nil
	}
	return db.ProductExists(ctx, p.db.Bun(), platform, searchTerm)
}

// RecordJob implements Catalog.
func (p *Postgres) RecordJob(ctx context.Context, h model.JobHistory) error {
	return db.AddJobHistory(ctx, p.db.Bun(), &h)
}

// JobHistory implements Catalog.
func (p *Postgres) JobHistory(ctx context.Context, sourcePath string) ([]model.JobHistory, error) {
	return db.JobHistoryForSource(ctx, p.db.Bun(), sourcePath, historyLimit)
}

// RemoveSource implements Catalog.
func (p *Postgres) RemoveSource(ctx context.Context, sourcePath string, folder bool) error {
	return db.RemoveSourceProducts(ctx, p.db.Bun(), sourcePath, folder)
}

// Close implements Catalog.
func (p *Postgres) Close() error {
	return p.db.Close()
}
