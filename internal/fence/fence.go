// Package fence places fence files: marker files created and immediately deleted in a directory
// the file watcher observes. Seeing a fence's deletion come out of the watcher proves that every
// file event queued before the fence has been delivered.
package fence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DirName is the fence directory's name under the cache root. Nothing else writes there.
	DirName = "fence"
	// FilePrefix starts every fence file name.
	FilePrefix = "fenceFile~"
	// Extension ends every fence file name.
	Extension = "fence"
)

// ErrRetriesExhausted is returned when a fence file could not be created or deleted within the
// retry budget.
var ErrRetriesExhausted = errors.New("fence retries exhausted")

// Dir returns the fence directory for a cache root.
func Dir(cacheRoot string) string {
	return filepath.Join(cacheRoot, DirName)
}

// FileName returns the fence file name for an id, e.g. "fenceFile~12.fence".
func FileName(id uint64) string {
	return fmt.Sprintf("%s%d.%s", FilePrefix, id, Extension)
}

// ParseID extracts the fence id from a fence file path: the text between the last '~' and the
// last '.'. It reports false for anything that is not a fence file.
func ParseID(path string) (uint64, bool) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, FilePrefix) || filepath.Ext(name) != "."+Extension {
		return 0, false
	}
	start, end := strings.LastIndexByte(name, '~'), strings.LastIndexByte(name, '.')
	if end <= start+1 {
		return 0, false
	}
	id, err := strconv.ParseUint(name[start+1:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// FileSystem is the file I/O a Fencer performs.
type FileSystem interface {
	Create(path string) error
	Remove(path string) error
}

type osFileSystem struct{}

func (osFileSystem) Create(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

func (osFileSystem) Remove(path string) error {
	return os.Remove(path)
}

// Fencer creates and deletes fence files, retrying each step a bounded number of times.
type Fencer struct {
	syslog *logrus.Entry

	dir        string
	retryCount int
	retryDelay time.Duration
	fs         FileSystem
}

// Option configures a Fencer.
type Option func(*Fencer)

// WithFileSystem replaces the file system the Fencer uses.
func WithFileSystem(fs FileSystem) Option {
	return func(f *Fencer) {
		f.fs = fs
	}
}

// New returns a Fencer placing fences in dir. Each step is attempted retryCount times with
// retryDelay between attempts.
func New(dir string, retryCount int, retryDelay time.Duration, opts ...Option) *Fencer {
	f := &Fencer{
		syslog:     logrus.WithField("component", "fence"),
		dir:        dir,
		retryCount: retryCount,
		retryDelay: retryDelay,
		fs:         osFileSystem{},
	}
	if f.retryCount < 1 {
		f.retryCount = 1
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Dir returns the directory fences are placed in.
func (f *Fencer) Dir() string {
	return f.dir
}

// Prepare creates the fence directory and clears out fences a previous run left behind.
func (f *Fencer) Prepare() error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return errors.Wrapf(err, "creating fence directory %s", f.dir)
	}
	stale, err := filepath.Glob(filepath.Join(f.dir, FilePrefix+"*."+Extension))
	if err != nil {
		return errors.Wrap(err, "listing stale fence files")
	}
	for _, p := range stale {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			f.syslog.WithError(err).Warnf("removing stale fence file %s", p)
		}
	}
	return nil
}

// Place creates the fence file for id and then deletes it. An error wrapping
// ErrRetriesExhausted means the fence was not placed and will never be detected.
func (f *Fencer) Place(ctx context.Context, id uint64) error {
	path := filepath.Join(f.dir, FileName(id))
	if err := f.retry(ctx, "create", path, f.fs.Create); err != nil {
		return err
	}
	return f.retry(ctx, "delete", path, f.fs.Remove)
}

func (f *Fencer) retry(ctx context.Context, op, path string, do func(string) error) error {
	numTries := 0
	for {
		err := do(path)
		if err == nil {
			return nil
		}
		numTries++
		if numTries >= f.retryCount {
			f.syslog.WithError(err).Errorf("could not %s fence file %s after %d tries", op, path, numTries)
			return errors.Wrapf(ErrRetriesExhausted, "%s %s: %s", op, path, err)
		}
		f.syslog.WithError(err).Warnf("failed to %s fence file %s, trying again in %s", op, path, f.retryDelay)

		t := time.NewTimer(f.retryDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return errors.Wrapf(ctx.Err(), "%s %s", op, path)
		}
	}
}
