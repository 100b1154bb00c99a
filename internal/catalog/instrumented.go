package catalog

import (
	"context"

	"github.com/determined-ai/rcq/internal/prom"
	"github.com/determined-ai/rcq/pkg/model"
)

const (
	opAssetExists = "asset_exists"
	opRecordJob   = "record_job"
	opJobHistory  = "job_history"
	opRemove      = "remove_source"
)

// instrumented records the latency and failures of every call to the catalog it wraps.
type instrumented struct {
	inner Catalog
}

func (i *instrumented) AssetExists(
	ctx context.Context, platform, searchTerm string,
) (exists bool, err error) {
	defer prom.Time(prom.CatalogDuration.WithLabelValues(opAssetExists))()
	defer prom.ErrCount(prom.CatalogErrors.WithLabelValues(opAssetExists), &err)
	return i.inner.AssetExists(ctx, platform, searchTerm)
}

func (i *instrumented) RecordJob(ctx context.Context, h model.JobHistory) (err error) {
	defer prom.Time(prom.CatalogDuration.WithLabelValues(opRecordJob))()
	defer prom.ErrCount(prom.CatalogErrors.WithLabelValues(opRecordJob), &err)
	return i.inner.RecordJob(ctx, h)
}

func (i *instrumented) JobHistory(
	ctx context.Context, sourcePath string,
) (history []model.JobHistory, err error) {
	defer prom.Time(prom.CatalogDuration.WithLabelValues(opJobHistory))()
	defer prom.ErrCount(prom.CatalogErrors.WithLabelValues(opJobHistory), &err)
	return i.inner.JobHistory(ctx, sourcePath)
}

func (i *instrumented) RemoveSource(ctx context.Context, sourcePath string, folder bool) (err error) {
	defer prom.Time(prom.CatalogDuration.WithLabelValues(opRemove))()
	defer prom.ErrCount(prom.CatalogErrors.WithLabelValues(opRemove), &err)
	return i.inner.RemoveSource(ctx, sourcePath, folder)
}

func (i *instrumented) Close() error {
	return i.inner.Close()
}
