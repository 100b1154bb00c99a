// Package api is the HTTP surface of the scheduler: job submission and inspection, source
// erasure, escalation, and the websocket endpoints of clients and builders.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	echoprom "github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/determined-ai/rcq/internal/controller"
	"github.com/determined-ai/rcq/internal/jobs"
	"github.com/determined-ai/rcq/pkg/check"
	"github.com/determined-ai/rcq/pkg/logger"
)

// Scheduler is what the API drives.
type Scheduler interface {
	SubmitJob(d jobs.Details)
	EraseJobs(sourcePath string)
	EraseFolder(folder string)
	EscalateJobs(escalations []jobs.Escalation)
	EscalateAsset(platform, searchTerm string)
	Snapshot(ctx context.Context) (controller.Snapshot, error)
}

// ClientServer serves client websocket connections.
type ClientServer interface {
	Serve(ctx context.Context, conn *websocket.Conn, platform string) error
}

// BuilderServer serves builder websocket connections.
type BuilderServer interface {
	Serve(ctx context.Context, conn *websocket.Conn) error
}

// Info is served at /info.
type Info struct {
	Version      string `json:"version"`
	HostPlatform string `json:"host_platform"`
	CatalogType  string `json:"catalog_type"`
	BuilderType  string `json:"builder_type"`
}

// Options configures the HTTP server.
type Options struct {
	Info             Info
	EnablePrometheus bool
	// Builders serves /ws/builders. The endpoint is absent if it is nil.
	Builders BuilderServer
}

type handlers struct {
	ctx       context.Context
	info      Info
	scheduler Scheduler
	clients   ClientServer
	builders  BuilderServer
}

// New returns the HTTP server. ctx bounds the lifetime of websocket connections, which outlive
// their HTTP requests.
func New(ctx context.Context, opts Options, scheduler Scheduler, clients ClientServer) *echo.Echo {
	h := &handlers{
		ctx:       ctx,
		info:      opts.Info,
		scheduler: scheduler,
		clients:   clients,
		builders:  opts.Builders,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger = logger.NewEchoLogger(logrus.WithField("component", "http"))
	e.HTTPErrorHandler = JSONErrorHandler
	e.Use(middleware.Recover())
	if opts.EnablePrometheus {
		p := echoprom.NewPrometheus("rcq_http", nil)
		p.Use(e)
	}

	e.GET("/info", Route(h.getInfo))

	v1 := e.Group("/api/v1")
	v1.GET("/jobs", Route(h.getJobs))
	v1.POST("/jobs", h.postJob)
	v1.DELETE("/sources", h.deleteSource)
	v1.POST("/escalations", h.postEscalations)

	e.GET("/ws/assets", h.clientSocket)
	if h.builders != nil {
		e.GET("/ws/builders", WebSocketRoute(h.builderSocket))
	}
	return e
}

func (h *handlers) getInfo(echo.Context) (interface{}, error) {
	return h.info, nil
}

func (h *handlers) getJobs(c echo.Context) (interface{}, error) {
	return h.scheduler.Snapshot(c.Request().Context())
}

type submitJobRequest struct {
	jobs.Details
}

func (r submitJobRequest) Validate() []error {
	return []error{
		check.NotEmpty(r.SourcePath, "source_path is required"),
		check.NotEmpty(r.Platform, "platform is required"),
		check.NotEmpty(r.JobKey, "job_key is required"),
		check.GreaterThanOrEqualTo(r.Priority, 0, "priority must not be negative"),
	}
}

func (h *handlers) postJob(c echo.Context) error {
	var req submitJobRequest
	if err := c.Bind(&req.Details); err != nil {
		return err
	}
	if err := check.Validate(req); err != nil {
		return AsValidationError("%s", err)
	}
	h.scheduler.SubmitJob(req.Details)
	return c.NoContent(http.StatusAccepted)
}

func (h *handlers) deleteSource(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return AsValidationError("path is required")
	}
	if c.QueryParam("folder") == "true" {
		h.scheduler.EraseFolder(path)
	} else {
		h.scheduler.EraseJobs(path)
	}
	return c.NoContent(http.StatusAccepted)
}

type escalationRequest struct {
	Platform    string            `json:"platform"`
	SearchTerm  string            `json:"search_term"`
	Escalations []jobs.Escalation `json:"escalations"`
}

func (r escalationRequest) Validate() []error {
	if len(r.Escalations) > 0 {
		return nil
	}
	return []error{
		check.NotEmpty(r.Platform, "platform is required without escalations"),
		check.NotEmpty(r.SearchTerm, "search_term is required without escalations"),
	}
}

func (h *handlers) postEscalations(c echo.Context) error {
	var req escalationRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := check.Validate(req); err != nil {
		return AsValidationError("%s", err)
	}
	if len(req.Escalations) > 0 {
		h.scheduler.EscalateJobs(req.Escalations)
	}
	if req.SearchTerm != "" {
		h.scheduler.EscalateAsset(req.Platform, req.SearchTerm)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handlers) clientSocket(c echo.Context) error {
	platform := c.QueryParam("platform")
	if platform == "" {
		return AsValidationError("platform is required")
	}
	return WebSocketRoute(func(conn *websocket.Conn, _ echo.Context) error {
		return h.clients.Serve(h.ctx, conn, platform)
	})(c)
}

func (h *handlers) builderSocket(conn *websocket.Conn, _ echo.Context) error {
	return h.builders.Serve(h.ctx, conn)
}
