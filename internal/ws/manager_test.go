package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	Echo
	failOn       string
	disconnected chan string
}

func (r *recorder) OnMessage(ctx context.Context, c *Conn, data []byte) error {
	switch string(data) {
	case r.failOn:
		return errors.New("boom")
	case "panic":
		panic("handler panic")
	}
	return r.Echo.OnMessage(ctx, c, data)
}

func (r *recorder) OnDisconnect(_ context.Context, c *Conn) error {
	r.disconnected <- c.Table()
	return nil
}

func serve(t *testing.T, m *Manager, h Handler) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		table := strings.TrimPrefix(r.URL.Path, "/ws/")
		_ = m.Serve(w, r, table, h)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, m *Manager, table string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Count(table) == n }, 2*time.Second, 10*time.Millisecond)
}

func TestEchoAndBroadcast(t *testing.T) {
	m := NewManager(nil, nil)
	base := serve(t, m, nil)

	products := dial(t, base+"/ws/products")
	orders := dial(t, base+"/ws/orders")
	waitFor(t, m, "products", 1)
	waitFor(t, m, "orders", 1)

	require.NoError(t, products.WriteMessage(websocket.TextMessage, []byte("hi")))
	var echo map[string]any
	require.NoError(t, products.ReadJSON(&echo))
	assert.Equal(t, map[string]any{"message": "Received", "data": "hi"}, echo)

	n := m.Broadcast("products", Event{Type: EventCreate, Model: "products", Data: map[string]any{"id": 1}})
	assert.Equal(t, 1, n)

	var ev map[string]any
	require.NoError(t, products.ReadJSON(&ev))
	assert.Equal(t, "create", ev["type"])
	assert.Equal(t, "products", ev["model"])
	assert.Equal(t, map[string]any{"id": float64(1)}, ev["data"])

	// the orders subscriber gets nothing
	_ = orders.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := orders.ReadMessage()
	assert.Error(t, err)
}

func TestHandlerErrorClosesWith1011(t *testing.T) {
	m := NewManager(nil, nil)
	h := &recorder{failOn: "fail", disconnected: make(chan string, 2)}
	base := serve(t, m, h)

	for _, frame := range []string{"fail", "panic"} {
		c := dial(t, base+"/ws/products")
		require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(frame)))
		_, _, err := c.ReadMessage()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr), "%s: %v", frame, err)

		select {
		case table := <-h.disconnected:
			assert.Equal(t, "products", table)
		case <-time.After(2 * time.Second):
			t.Fatal("disconnect handler not called")
		}
	}
	waitFor(t, m, "products", 0)
}

func TestCloseAllSendsGoingAway(t *testing.T) {
	m := NewManager(nil, nil)
	base := serve(t, m, nil)
	c := dial(t, base+"/ws/products")
	waitFor(t, m, "products", 1)

	m.CloseAll(websocket.CloseGoingAway, "server shutting down")
	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "%v", err)
	assert.Equal(t, 0, m.Count("products"))
}

func TestBroadcastDropsFullQueues(t *testing.T) {
	m := NewManager(nil, nil)
	slow := &Conn{id: "slow", table: "products", send: make(chan []byte, 1), done: make(chan struct{})}
	fast := &Conn{id: "fast", table: "products", send: make(chan []byte, 8), done: make(chan struct{})}
	m.register(slow)
	m.register(fast)

	ev := Event{Type: EventDelete, Model: "products", Data: map[string]any{"id": 7}}
	assert.Equal(t, 2, m.Broadcast("products", ev))
	assert.Equal(t, 1, m.Broadcast("products", ev))

	assert.Equal(t, 1, m.Count("products"))
	assert.True(t, slow.closed())
	assert.Len(t, fast.send, 2)
	assert.ErrorIs(t, slow.Send(ev), ErrClosed)
}
