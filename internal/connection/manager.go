// Package connection manages the websocket connections of Editor and Game clients. It decodes
// their requests for the scheduler and routes responses back by connection id.
package connection

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	"github.com/determined-ai/rcq/internal/assetrequest"
	"github.com/determined-ai/rcq/internal/prom"
	"github.com/determined-ai/rcq/pkg/model"
	"github.com/determined-ai/rcq/pkg/syncx/queue"
	"github.com/determined-ai/rcq/pkg/ws"
)

// Sink receives what clients send. Its methods must not block.
type Sink interface {
	HandleRequest(req assetrequest.Request)
	PlatformConnected(platform string)
	PlatformDisconnected(platform string)
}

// Envelope is a message from a client.
type Envelope struct {
	Type    string          `json:"type"`
	Serial  uint64          `json:"serial"`
	Payload json.RawMessage `json:"payload"`
}

// Reply is a message to a client. Responses echo the type and serial of their request.
type Reply struct {
	Type    string      `json:"type"`
	Serial  uint64      `json:"serial"`
	Payload interface{} `json:"payload"`
}

type client struct {
	id       string
	platform string
	outbox   *queue.Queue[Reply]
}

// Manager tracks live client connections. Its methods are safe for concurrent use.
type Manager struct {
	syslog *logrus.Entry
	sink   Sink

	mu        sync.Mutex
	clients   map[string]*client
	platforms map[string]int
}

// NewManager returns a Manager delivering requests to sink.
func NewManager(sink Sink) *Manager {
	return &Manager{
		syslog:    logrus.WithField("component", "connections"),
		sink:      sink,
		clients:   make(map[string]*client),
		platforms: make(map[string]int),
	}
}

// Platforms returns the platforms with at least one live connection.
func (m *Manager) Platforms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Keys(m.platforms)
}

// Len returns the number of live connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Send queues a reply for a connection. It never blocks; replies to connections that have gone
// away are dropped.
func (m *Manager) Send(connectionID string, serial uint64, msgType string, payload interface{}) {
	m.mu.Lock()
	c, ok := m.clients[connectionID]
	m.mu.Unlock()
	if !ok {
		m.syslog.WithField("connection-id", connectionID).Debug("dropping reply to closed connection")
		return
	}
	c.outbox.Put(Reply{Type: msgType, Serial: serial, Payload: payload})
}

// Serve runs a client connection for the given platform until it closes or ctx is canceled.
func (m *Manager) Serve(ctx context.Context, conn *websocket.Conn, platform string) error {
	c := &client{
		id:       uuid.New().String(),
		platform: platform,
		outbox:   queue.New[Reply](),
	}
	s := ws.Wrap[Envelope, Reply]("client", conn)
	defer func() {
		if err := s.Close(); err != nil {
			m.syslog.WithError(err).Debug("closing client connection")
		}
	}()

	log := m.syslog.WithFields(logrus.Fields{"connection-id": c.id, "platform": platform})
	m.register(c)
	defer m.unregister(c)
	log.Debug("client connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		for {
			r, err := c.outbox.GetWithContext(ctx)
			if err != nil {
				return
			}
			if err := s.Send(ctx, r); err != nil {
				log.WithError(err).Debug("writing reply")
				return
			}
		}
	}()

	for {
		select {
		case env, ok := <-s.Inbox:
			if !ok {
				log.Debug("client disconnected")
				return errors.Wrap(s.Error(), "client session")
			}
			m.receive(log, c, env)
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Manager) receive(log *logrus.Entry, c *client, env Envelope) {
	req := assetrequest.Request{
		ID:       assetrequest.RequestID{ConnectionID: c.id, Serial: env.Serial},
		Type:     assetrequest.RequestType(env.Type),
		Platform: c.platform,
	}
	switch req.Type {
	case assetrequest.AssetStatus, assetrequest.EscalateAsset, assetrequest.JobsInfo:
	default:
		log.Warnf("unknown request type %q", env.Type)
		m.Send(c.id, env.Serial, env.Type, assetrequest.StatusResponse{Status: model.AssetStatusUnknown})
		return
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			log.WithError(err).Warnf("malformed %s payload", env.Type)
			m.Send(c.id, env.Serial, env.Type, assetrequest.StatusResponse{Status: model.AssetStatusUnknown})
			return
		}
	}
	m.sink.HandleRequest(req)
}

func (m *Manager) register(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.id] = c
	m.platforms[c.platform]++
	prom.Connections.WithLabelValues(c.platform).Inc()
	if m.platforms[c.platform] == 1 {
		m.sink.PlatformConnected(c.platform)
	}
}

func (m *Manager) unregister(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, c.id)
	m.platforms[c.platform]--
	prom.Connections.WithLabelValues(c.platform).Dec()
	if m.platforms[c.platform] == 0 {
		delete(m.platforms, c.platform)
		m.sink.PlatformDisconnected(c.platform)
	}
}
