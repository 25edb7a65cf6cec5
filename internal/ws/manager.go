// Package ws keeps per-table WebSocket subscribers and fans mutation events
// out to them.
package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tablegate/internal/metrics"
)

// Event is the frame broadcast after a successful write.
type Event struct {
	Type  string `json:"type"`
	Model string `json:"model"`
	Data  any    `json:"data"`
}

const (
	EventCreate = "create"
	EventUpdate = "update"
	EventDelete = "delete"
)

type Option func(*Manager)

// WithQueueSize sets the per-connection outbound queue length.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queue = n
		}
	}
}

func WithTimeouts(writeWait, pongWait time.Duration) Option {
	return func(m *Manager) {
		if writeWait > 0 {
			m.writeWait = writeWait
		}
		if pongWait > 0 {
			m.pongWait = pongWait
		}
	}
}

// Manager is the connection registry: table -> live connections.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}

	upgrader  websocket.Upgrader
	queue     int
	writeWait time.Duration
	pongWait  time.Duration

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewManager(log *zap.Logger, m *metrics.Metrics, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	mgr := &Manager{
		conns: make(map[string]map[*Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		queue:     64,
		writeWait: 10 * time.Second,
		pongWait:  60 * time.Second,
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		log:       log.Named("ws"),
		metrics:   m,
	}
	for _, o := range opts {
		o(mgr)
	}
	return mgr
}

func (m *Manager) newID() string {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String()
}

func (m *Manager) register(c *Conn) {
	m.mu.Lock()
	set := m.conns[c.table]
	if set == nil {
		set = make(map[*Conn]struct{})
		m.conns[c.table] = set
	}
	set[c] = struct{}{}
	m.mu.Unlock()
	m.metrics.ClientConnected(c.table)
}

func (m *Manager) unregister(c *Conn) {
	m.mu.Lock()
	set := m.conns[c.table]
	_, ok := set[c]
	if ok {
		delete(set, c)
		if len(set) == 0 {
			delete(m.conns, c.table)
		}
	}
	m.mu.Unlock()
	if ok {
		m.metrics.ClientDisconnected(c.table)
	}
}

func (m *Manager) snapshot(table string) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Conn, 0, len(m.conns[table]))
	for c := range m.conns[table] {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live connections for table.
func (m *Manager) Count(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns[table])
}

// Serve upgrades the request and runs the connection until it ends. The
// upgrader has already answered the client when an error is returned.
func (m *Manager) Serve(w http.ResponseWriter, r *http.Request, table string, h Handler) error {
	if h == nil {
		h = Echo{}
	}
	wsConn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.Wrap(err, "websocket upgrade")
	}

	c := &Conn{
		id:    m.newID(),
		table: table,
		ws:    wsConn,
		send:  make(chan []byte, m.queue),
		done:  make(chan struct{}),
	}
	log := m.log.With(zap.String("table", table), zap.String("conn", c.id))
	ctx := r.Context()

	m.register(c)
	go c.writeLoop(m.writeWait, m.pongWait*9/10)

	defer func() {
		if err := guard(func() error { return h.OnDisconnect(ctx, c) }); err != nil {
			log.Warn("disconnect handler failed", zap.Error(err))
		}
		m.unregister(c)
		c.closeWith(websocket.CloseNormalClosure, "", m.writeWait)
	}()

	if err := guard(func() error { return h.OnConnect(ctx, c) }); err != nil {
		log.Warn("connect handler failed", zap.Error(err))
		c.closeWith(websocket.CloseInternalServerErr, "connect handler failed", m.writeWait)
		return nil
	}

	_ = wsConn.SetReadDeadline(time.Now().Add(m.pongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(m.pongWait))
	})

	for {
		kind, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && !c.closed() {
				log.Debug("read failed", zap.Error(err))
			}
			return nil
		}
		_ = wsConn.SetReadDeadline(time.Now().Add(m.pongWait))
		if kind != websocket.TextMessage {
			continue
		}
		if err := guard(func() error { return h.OnMessage(ctx, c, data) }); err != nil {
			log.Warn("message handler failed", zap.Error(err))
			c.closeWith(websocket.CloseInternalServerErr, "handler error", m.writeWait)
			return nil
		}
	}
}

// Broadcast queues ev on every connection of table without blocking.
// Connections whose queue is full are dropped after the fan-out. It returns
// the number of connections the event was queued on.
func (m *Manager) Broadcast(table string, ev Event) int {
	payload, err := json.Marshal(ev)
	if err != nil {
		m.log.Error("encode broadcast", zap.String("table", table), zap.Error(err))
		return 0
	}

	var (
		delivered int
		failed    []*Conn
	)
	for _, c := range m.snapshot(table) {
		if err := c.enqueue(payload); err != nil {
			failed = append(failed, c)
			m.metrics.Broadcast(table, "dropped")
			continue
		}
		delivered++
		m.metrics.Broadcast(table, "delivered")
	}

	for _, c := range failed {
		m.unregister(c)
		c.closeWith(websocket.CloseTryAgainLater, "subscriber too slow", m.writeWait)
		m.log.Info("subscriber dropped", zap.String("table", table), zap.String("conn", c.id))
	}
	return delivered
}

// CloseAll closes every connection with code, typically 1001 on shutdown.
func (m *Manager) CloseAll(code int, reason string) {
	m.mu.Lock()
	var all []*Conn
	for _, set := range m.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	m.mu.Unlock()

	for _, c := range all {
		m.unregister(c)
		c.closeWith(code, reason, m.writeWait)
	}
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Handler customises a table's WebSocket behaviour.
type Handler interface {
	OnConnect(ctx context.Context, c *Conn) error
	OnMessage(ctx context.Context, c *Conn, data []byte) error
	OnDisconnect(ctx context.Context, c *Conn) error
}

// Echo replies to every text frame with {"message":"Received","data":<text>}.
type Echo struct {
	Log *zap.Logger
}

func (e Echo) OnConnect(_ context.Context, c *Conn) error {
	if e.Log != nil {
		e.Log.Info("websocket connected", zap.String("table", c.Table()), zap.String("conn", c.ID()))
	}
	return nil
}

func (e Echo) OnMessage(_ context.Context, c *Conn, data []byte) error {
	return c.Send(map[string]any{"message": "Received", "data": string(data)})
}

func (e Echo) OnDisconnect(_ context.Context, c *Conn) error {
	if e.Log != nil {
		e.Log.Info("websocket disconnected", zap.String("table", c.Table()), zap.String("conn", c.ID()))
	}
	return nil
}
