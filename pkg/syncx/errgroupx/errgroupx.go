package errgroupx

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Group wraps golang.org/x/sync/errgroup.Group so that its context never outlives the group and
// every member is named for error reporting.
type Group struct {
	inner   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	recover bool
}

// WithContext creates a Group as a child of the given context.
func WithContext(ctx context.Context) *Group {
	intermediate, cancel := context.WithCancel(ctx)
	g, groupCtx := errgroup.WithContext(intermediate)
	return &Group{inner: g, ctx: groupCtx, cancel: cancel}
}

// WithRecover sets up the group to turn panics from members into errors.
func (g *Group) WithRecover() *Group {
	g.recover = true
	return g
}

// Go launches f as a member of the group. The first member to return a non-nil error cancels
// the group context; that error, prefixed with name, is what Wait returns.
func (g *Group) Go(name string, f func(ctx context.Context) error) {
	g.inner.Go(func() (err error) {
		defer func() {
			if !g.recover {
				return
			}
			if rec := recover(); rec != nil {
				err = fmt.Errorf("%s panicked: %v\n%s", name, rec, debug.Stack())
			}
		}()
		if err := f(g.ctx); err != nil {
			return errors.Wrap(err, name+" failed")
		}
		return nil
	})
}

// Context returns the group-scoped context.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Wait for all members to complete.
func (g *Group) Wait() error {
	defer g.cancel()
	return g.inner.Wait()
}

// Cancel the group without waiting for it to exit.
func (g *Group) Cancel() {
	g.cancel()
}

// Close cancels the group and waits for it.
func (g *Group) Close() error {
	g.cancel()
	return g.Wait()
}
