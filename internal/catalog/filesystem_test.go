package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/determined-ai/rcq/internal/config"
	"github.com/determined-ai/rcq/pkg/model"
)

func TestFilesystemAssetExists(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	product := filepath.Join(root, "pc", "textures", "rock.dds")
	require.NoError(t, os.MkdirAll(filepath.Dir(product), 0o700))
	require.NoError(t, os.WriteFile(product, []byte("dds"), 0o600))

	f := NewFilesystem(root)
	tests := []struct {
		platform string
		term     string
		want     bool
	}{
		{"pc", "textures/rock.dds", true},
		{"pc", `textures\rock.dds`, true},
		{"ios", "textures/rock.dds", false},
		{"pc", "textures", false},
		{"pc", "../pc/textures/rock.dds", false},
		{"pc", "", false},
	}
	for _, tt := range tests {
		exists, err := f.AssetExists(ctx, tt.platform, tt.term)
		require.NoError(t, err)
		require.Equal(t, tt.want, exists, "%s %s", tt.platform, tt.term)
	}
}

func TestFilesystemHistory(t *testing.T) {
	ctx := context.Background()
	f := NewFilesystem(t.TempDir())

	for i := 1; i <= historyLimit+3; i++ {
		state := "failed"
		if i == historyLimit+3 {
			state = "completed"
		}
		require.NoError(t, f.RecordJob(ctx, model.JobHistory{
			RunKey:       uint64(i),
			SourcePath:   "Textures/Rock.tif",
			RelativePath: "Textures/Rock.tif",
			Platform:     "pc",
			State:        state,
			CompletedAt:  time.Now(),
		}))
	}

	history, err := f.JobHistory(ctx, "textures/rock.tif")
	require.NoError(t, err)
	require.Len(t, history, historyLimit)
	require.Equal(t, uint64(historyLimit+3), history[0].RunKey)

	for _, term := range []string{"textures/rock.tif", "ROCK.TIF"} {
		exists, err := f.AssetExists(ctx, "pc", term)
		require.NoError(t, err)
		require.True(t, exists, term)
	}
	exists, err := f.AssetExists(ctx, "pc", "ock.tif")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestFilesystemRemoveSource(t *testing.T) {
	ctx := context.Background()
	f := NewFilesystem(t.TempDir())
	for i, source := range []string{"Textures/Rock.tif", "textures/stone/Granite.tif", "Meshes/Tree.fbx"} {
		require.NoError(t, f.RecordJob(ctx, model.JobHistory{
			RunKey:       uint64(i + 1),
			SourcePath:   source,
			RelativePath: source,
			Platform:     "pc",
			State:        "completed",
			CompletedAt:  time.Now(),
		}))
	}
	exists := func(term string) bool {
		ok, err := f.AssetExists(ctx, "pc", term)
		require.NoError(t, err)
		return ok
	}

	require.NoError(t, f.RemoveSource(ctx, "textures/rock.tif", false))
	require.False(t, exists("rock.tif"))
	require.True(t, exists("granite.tif"))

	require.NoError(t, f.RemoveSource(ctx, "TEXTURES", true))
	require.False(t, exists("granite.tif"))
	require.True(t, exists("tree.fbx"))

	history, err := f.JobHistory(ctx, "textures/rock.tif")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestNewSelectsBackend(t *testing.T) {
	c := config.DefaultConfig()
	c.CacheRoot = t.TempDir()
	cat, err := New(context.Background(), c)
	require.NoError(t, err)
	require.IsType(t, &Filesystem{}, cat.(*instrumented).inner)
	require.NoError(t, cat.Close())

	c.Catalog.Type = "mongo"
	_, err = New(context.Background(), c)
	require.Error(t, err)
}
