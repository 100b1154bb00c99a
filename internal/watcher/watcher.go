// Package watcher turns file-system notifications into scheduler input: fence file deletions and
// source deletions, delivered in the order the operating system reported them.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/determined-ai/rcq/internal/fence"
)

// Sink receives what the watcher observes. Calls are made from the watcher's goroutine, one at
// a time, in event order.
type Sink interface {
	FenceFileDetected(id uint64)
	SourceDeleted(sourcePath string)
	// SourceFolderDeleted reports a directory under a scan folder that was removed or moved away,
	// taking every source inside it along.
	SourceFolderDeleted(folder string)
}

// Watcher watches the fence directory and the scan folders.
type Watcher struct {
	syslog *logrus.Entry

	fenceDir    string
	scanFolders []string
	sink        Sink
	fsw         *fsnotify.Watcher
	// dirs holds every watched directory under the scan folders. Only Run's goroutine touches it
	// once New returns.
	dirs map[string]bool
}

// New watches fenceDir and, recursively, every scan folder. Directories created later under a
// scan folder are added as they appear.
func New(fenceDir string, scanFolders []string, sink Sink) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}
	w := &Watcher{
		syslog:   logrus.WithField("component", "watcher"),
		fenceDir: filepath.Clean(fenceDir),
		sink:     sink,
		fsw:      fsw,
		dirs:     make(map[string]bool),
	}
	for _, f := range scanFolders {
		w.scanFolders = append(w.scanFolders, filepath.Clean(f))
	}

	if err := fsw.Add(w.fenceDir); err != nil {
		_ = fsw.Close()
		return nil, errors.Wrapf(err, "watching fence directory %s", w.fenceDir)
	}
	for _, f := range w.scanFolders {
		if err := w.addTree(f); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Run delivers events to the sink until ctx is canceled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		if err := w.fsw.Close(); err != nil {
			w.syslog.WithError(err).Warn("closing file watcher")
		}
	}()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			// Overflows lose events; fenced requests still finish through the fence timeout.
			w.syslog.WithError(err).Error("file watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if filepath.Dir(path) == w.fenceDir {
		if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
			if id, ok := fence.ParseID(path); ok {
				w.syslog.WithField("fence-id", id).Trace("fence detected")
				w.sink.FenceFileDetected(id)
			}
		}
		return
	}

	root, rel, ok := w.scanFolderOf(path)
	if !ok {
		return
	}
	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addTree(path); err != nil {
				w.syslog.WithError(err).Warnf("watching new directory under %s", root)
			}
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if w.dirs[path] {
			w.forgetTree(path)
			w.syslog.WithField("folder", rel).Debug("source folder deleted")
			w.sink.SourceFolderDeleted(rel)
			return
		}
		w.syslog.WithField("source", rel).Debug("source deleted")
		w.sink.SourceDeleted(rel)
	}
}

// forgetTree drops the directory and everything under it. A moved directory keeps its inotify
// watches, so they are removed explicitly; for deleted ones the removal fails and is ignored.
func (w *Watcher) forgetTree(root string) {
	prefix := root + string(filepath.Separator)
	for d := range w.dirs {
		if d != root && !strings.HasPrefix(d, prefix) {
			continue
		}
		delete(w.dirs, d)
		_ = w.fsw.Remove(d)
	}
}

// scanFolderOf returns the scan folder containing path and path relative to it, with '/'
// separators.
func (w *Watcher) scanFolderOf(path string) (root, rel string, ok bool) {
	for _, f := range w.scanFolders {
		r, err := filepath.Rel(f, path)
		if err != nil || r == "." || strings.HasPrefix(r, "..") {
			continue
		}
		return f, filepath.ToSlash(r), true
	}
	return "", "", false
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Wrapf(err, "walking %s", p)
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			return errors.Wrapf(err, "watching %s", p)
		}
		w.dirs[filepath.Clean(p)] = true
		return nil
	})
}
