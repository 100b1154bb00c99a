package db

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/determined-ai/rcq/pkg/model"
)

// AddJobHistory records a finished job.
func AddJobHistory(ctx context.Context, idb bun.IDB, h *model.JobHistory) error {
	if _, err := idb.NewInsert().Model(h).Exec(ctx); err != nil {
		return errors.Wrapf(err, "adding job history for %s", h.SourcePath)
	}
	return nil
}

// JobHistoryForSource returns the newest limit finished jobs of a source, newest first.
func JobHistoryForSource(
	ctx context.Context, idb bun.IDB, sourcePath string, limit int,
) ([]model.JobHistory, error) {
	var history []model.JobHistory
	err := idb.NewSelect().
		Model(&history).
		Where("lower(source_path) = ?", strings.ToLower(sourcePath)).
		OrderExpr("completed_at DESC, run_key DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "reading job history for %s", sourcePath)
	}
	return history, nil
}

// ProductExists reports whether a job for the platform whose source matches term, by exact
// relative path, source path or path suffix, has ever completed successfully.
func ProductExists(ctx context.Context, idb bun.IDB, platform, term string) (bool, error) {
	term = strings.ToLower(strings.ReplaceAll(term, `\`, "/"))
	exists, err := idb.NewSelect().
		Model((*model.JobHistory)(nil)).
		Where("platform = ?", platform).
		Where("state = ?", "completed").
		Where("NOT source_removed").
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("lower(relative_path) = ?", term).
				WhereOr("lower(source_path) = ?", term).
				WhereOr("lower(relative_path) LIKE ?", "%/"+escapeLike(term))
		}).
		Exists(ctx)
	if err != nil {
		return false, errors.Wrapf(err, "checking product %s for %s", term, platform)
	}
	return exists, nil
}

// RemoveSourceProducts marks the rows of a deleted source, or of every source under a deleted
// folder, as no longer backing a product.
func RemoveSourceProducts(ctx context.Context, idb bun.IDB, sourcePath string, folder bool) error {
	q := idb.NewUpdate().
		Model((*model.JobHistory)(nil)).
		Set("source_removed = TRUE")
	if folder {
		prefix := strings.ToLower(strings.TrimSuffix(sourcePath, "/")) + "/"
		q = q.Where("lower(source_path) LIKE ?", escapeLike(prefix)+"%")
	} else {
		q = q.Where("lower(source_path) = ?", strings.ToLower(sourcePath))
	}
	if _, err := q.Exec(ctx); err != nil {
		return errors.Wrapf(err, "removing products of %s", sourcePath)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
