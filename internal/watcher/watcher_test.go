package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/determined-ai/rcq/internal/fence"
)

type recordingSink struct {
	fences  chan uint64
	sources chan string
	folders chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		fences:  make(chan uint64, 16),
		sources: make(chan string, 16),
		folders: make(chan string, 16),
	}
}

func (s *recordingSink) FenceFileDetected(id uint64)       { s.fences <- id }
func (s *recordingSink) SourceDeleted(sourcePath string)   { s.sources <- sourcePath }
func (s *recordingSink) SourceFolderDeleted(folder string) { s.folders <- folder }

func startWatcher(t *testing.T) (fenceDir, scanDir string, sink *recordingSink) {
	root := t.TempDir()
	fenceDir = fence.Dir(root)
	scanDir = filepath.Join(root, "project")
	require.NoError(t, os.MkdirAll(fenceDir, 0o700))
	require.NoError(t, os.MkdirAll(filepath.Join(scanDir, "textures"), 0o700))

	sink = newRecordingSink()
	w, err := New(fenceDir, []string{scanDir}, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return fenceDir, scanDir, sink
}

func TestFenceDetection(t *testing.T) {
	fenceDir, _, sink := startWatcher(t)

	f := fence.New(fenceDir, 5, 10*time.Millisecond)
	require.NoError(t, f.Place(context.Background(), 17))

	select {
	case id := <-sink.fences:
		require.Equal(t, uint64(17), id)
	case <-time.After(5 * time.Second):
		t.Fatal("fence was not detected")
	}
}

func TestSourceDeleted(t *testing.T) {
	_, scanDir, sink := startWatcher(t)

	src := filepath.Join(scanDir, "textures", "rock.tif")
	require.NoError(t, os.WriteFile(src, []byte("tif"), 0o600))
	require.NoError(t, os.Remove(src))

	select {
	case p := <-sink.sources:
		require.Equal(t, "textures/rock.tif", p)
	case <-time.After(5 * time.Second):
		t.Fatal("deletion was not reported")
	}
}

func TestNewDirectoriesAreWatched(t *testing.T) {
	_, scanDir, sink := startWatcher(t)

	dir := filepath.Join(scanDir, "objects")
	require.NoError(t, os.Mkdir(dir, 0o700))
	src := filepath.Join(dir, "tree.fbx")
	require.Eventually(t, func() bool {
		// The directory is added asynchronously; keep touching the file until its deletion shows.
		_ = os.WriteFile(src, nil, 0o600)
		_ = os.Remove(src)
		select {
		case p := <-sink.sources:
			return p == "objects/tree.fbx"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSourceFolderDeleted(t *testing.T) {
	for _, tc := range []struct {
		name   string
		delete func(t *testing.T, dir string)
	}{
		{"removed", func(t *testing.T, dir string) {
			require.NoError(t, os.RemoveAll(dir))
		}},
		{"moved out of the scan folder", func(t *testing.T, dir string) {
			require.NoError(t, os.Rename(dir, filepath.Join(t.TempDir(), "elsewhere")))
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, scanDir, sink := startWatcher(t)
			dir := filepath.Join(scanDir, "textures")
			require.NoError(t, os.WriteFile(filepath.Join(dir, "rock.tif"), []byte("tif"), 0o600))

			tc.delete(t, dir)

			select {
			case p := <-sink.folders:
				require.Equal(t, "textures", p)
			case <-time.After(5 * time.Second):
				t.Fatal("folder deletion was not reported")
			}
			// The folder is reported once; a trailing event for it is a plain deletion.
			select {
			case p := <-sink.folders:
				t.Fatalf("folder %s reported twice", p)
			case <-time.After(200 * time.Millisecond):
			}
		})
	}
}
