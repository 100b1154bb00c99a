// Package server wires the scheduler's components together and runs them.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/determined-ai/rcq/internal/api"
	"github.com/determined-ai/rcq/internal/assetrequest"
	"github.com/determined-ai/rcq/internal/builder"
	"github.com/determined-ai/rcq/internal/catalog"
	"github.com/determined-ai/rcq/internal/config"
	"github.com/determined-ai/rcq/internal/connection"
	"github.com/determined-ai/rcq/internal/controller"
	"github.com/determined-ai/rcq/internal/fence"
	"github.com/determined-ai/rcq/internal/watcher"
	"github.com/determined-ai/rcq/pkg/syncx/errgroupx"
)

const shutdownTimeout = 5 * time.Second

// Server is the scheduler process.
type Server struct {
	syslog  *logrus.Entry
	version string
	config  *config.Config
}

// New creates an instance of the server.
func New(version string, c *config.Config) *Server {
	return &Server{
		syslog:  logrus.WithField("component", "server"),
		version: version,
		config:  c,
	}
}

// Run starts every component and blocks until ctx is canceled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	cat, err := catalog.New(ctx, s.config)
	if err != nil {
		return errors.Wrap(err, "opening catalog")
	}
	defer func() {
		if err := cat.Close(); err != nil {
			s.syslog.WithError(err).Warn("closing catalog")
		}
	}()

	fencer := fence.New(
		fence.Dir(s.config.CacheRoot),
		s.config.Fence.RetryCount,
		time.Duration(s.config.Fence.RetryDelay),
	)
	if err := fencer.Prepare(); err != nil {
		return err
	}

	var (
		b      builder.Builder
		remote *builder.Remote
	)
	switch s.config.Builder.Type {
	case config.RemoteBuilder:
		remote = builder.NewRemote()
		b = remote
	default:
		b = builder.Null{}
	}

	var clients *connection.Manager
	ctrl := controller.New(controller.Config{
		HostPlatform: s.config.HostPlatform,
		MaxJobs:      s.config.Scheduler.MaxJobs,
		FenceTimeout: time.Duration(s.config.Fence.Timeout),
	}, b, cat, fencer, assetrequest.ResponderFunc(
		func(connectionID string, serial uint64, msgType string, payload interface{}) {
			clients.Send(connectionID, serial, msgType, payload)
		}))
	clients = connection.NewManager(ctrl)

	w, err := watcher.New(fencer.Dir(), s.config.ScanFolders, ctrl)
	if err != nil {
		return err
	}

	g := errgroupx.WithContext(ctx).WithRecover()
	opts := api.Options{
		Info: api.Info{
			Version:      s.version,
			HostPlatform: s.config.HostPlatform,
			CatalogType:  s.config.Catalog.Type,
			BuilderType:  s.config.Builder.Type,
		},
		EnablePrometheus: s.config.Observability.EnablePrometheus,
	}
	if remote != nil {
		opts.Builders = remote
	}
	e := api.New(g.Context(), opts, ctrl, clients)

	g.Go("scheduler", ctrl.Run)
	g.Go("file watcher", w.Run)
	g.Go("HTTP server", func(ctx context.Context) error {
		return serveHTTP(ctx, e, s.config.Port)
	})

	s.syslog.Infof("accepting incoming connections on port %d", s.config.Port)
	return g.Wait()
}

func serveHTTP(ctx context.Context, e *echo.Echo, port int) error {
	errs := make(chan error, 1)
	go func() {
		errs <- e.Start(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
