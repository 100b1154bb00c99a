package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/determined-ai/rcq/internal/prom"
	"github.com/determined-ai/rcq/pkg/model"
)

type brokenCatalog struct{}

func (brokenCatalog) AssetExists(context.Context, string, string) (bool, error) {
	return false, errors.New("disk on fire")
}

func (brokenCatalog) RecordJob(context.Context, model.JobHistory) error { return nil }

func (brokenCatalog) JobHistory(context.Context, string) ([]model.JobHistory, error) {
	return nil, nil
}

func (brokenCatalog) RemoveSource(context.Context, string, bool) error { return nil }

func (brokenCatalog) Close() error { return nil }

func TestInstrumentedCountsErrors(t *testing.T) {
	cat := &instrumented{inner: brokenCatalog{}}
	exists := prom.CatalogErrors.WithLabelValues(opAssetExists)
	record := prom.CatalogErrors.WithLabelValues(opRecordJob)
	before, beforeRecord := testutil.ToFloat64(exists), testutil.ToFloat64(record)

	_, err := cat.AssetExists(context.Background(), "pc", "rock.dds")
	require.ErrorContains(t, err, "disk on fire")
	require.NoError(t, cat.RecordJob(context.Background(), model.JobHistory{}))

	require.Equal(t, before+1, testutil.ToFloat64(exists))
	require.Equal(t, beforeRecord, testutil.ToFloat64(record))
}
