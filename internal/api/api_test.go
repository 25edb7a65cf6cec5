package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablegate/internal/auth"
	"tablegate/internal/db"
	"tablegate/internal/endpoint"
	"tablegate/internal/metrics"
	"tablegate/internal/schema"
	"tablegate/internal/service"
	"tablegate/internal/store"
	"tablegate/internal/ws"
)

type env struct {
	srv     *httptest.Server
	sockets *ws.Manager
	jwt     *auth.JWT
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	products, err := schema.NewBuilder("products").
		Column("id", schema.Integer, schema.PrimaryKey(), schema.AutoIncrement()).
		Column("name", schema.String).
		Column("price", schema.Float).
		Column("active", schema.Boolean, schema.Default("1")).
		Build()
	require.NoError(t, err)
	archive, err := schema.NewBuilder("archive").
		Column("id", schema.Integer, schema.PrimaryKey(), schema.AutoIncrement()).
		Column("note", schema.String, schema.Nullable()).
		Build()
	require.NoError(t, err)
	secured, err := schema.NewBuilder("secured").
		Column("id", schema.Integer, schema.PrimaryKey(), schema.AutoIncrement()).
		Column("note", schema.String, schema.Nullable()).
		Build()
	require.NoError(t, err)

	gdb, d, err := db.Open(ctx, "sqlite:///"+filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx, gdb, d, []*schema.Table{products, archive, secured}, nil))
	st := store.NewSQL(gdb)
	t.Cleanup(func() { _ = st.Close() })

	jwt, err := auth.NewJWT("test-secret", "HS256")
	require.NoError(t, err)
	reg, err := endpoint.NewRegistry(
		endpoint.Model{Table: products, Config: endpoint.New()},
		endpoint.Model{Table: archive, Config: endpoint.New(endpoint.WithMethods(endpoint.GET))},
		endpoint.Model{Table: secured, Config: endpoint.New(
			endpoint.WithAuth(jwt),
			endpoint.WithPermissions(endpoint.DELETE, "admin"),
		)},
	)
	require.NoError(t, err)

	m := metrics.New()
	sockets := ws.NewManager(nil, m)
	svc := service.New(reg, st, nil, service.WithBroadcaster(sockets), service.WithMetrics(m))
	r, err := NewRouter(svc, Options{
		Metrics:     m,
		Sockets:     sockets,
		Info:        Info{Title: "Shop", Version: "2.0.0"},
		CORSOrigins: []string{"https://shop.example"},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &env{srv: srv, sockets: sockets, jwt: jwt}
}

func (e *env) do(t *testing.T, method, path, body string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestCreateReturnsLocation(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodPost, "/api/products", `{"name":"Widget","price":"12.50"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, 12.5, body["price"])
	assert.Equal(t, "Widget", body["name"])
	assert.Equal(t, true, body["active"])
	assert.True(t, strings.HasSuffix(resp.Header.Get("Location"), "/api/products/1"), resp.Header.Get("Location"))
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestFilterSortPaginate(t *testing.T) {
	e := newEnv(t)
	for _, p := range []string{"5", "15", "25", "35", "45"} {
		resp, _ := e.do(t, http.MethodPost, "/api/products", `{"name":"p`+p+`","price":`+p+`}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := e.do(t, http.MethodGet, "/api/products?price__gte=10&price__lte=50&sort=-price&page=1&limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	items := body["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, 45.0, items[0].(map[string]any)["price"])
	assert.Equal(t, 35.0, items[1].(map[string]any)["price"])
	assert.Equal(t, 4.0, body["total"])
	assert.Equal(t, 2.0, body["pages"])
	assert.Equal(t, 2.0, body["next_page"])
	assert.Nil(t, body["prev_page"])

	_, body = e.do(t, http.MethodGet, "/api/products?price__gt=30&limit=10", "")
	assert.Equal(t, 2.0, body["total"])
	assert.Equal(t, 1.0, body["pages"])
	assert.Nil(t, body["next_page"])
}

func TestValidationEnvelope(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodPost, "/api/products", `{"price":"cheap","active":"maybe"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Validation failed", body["error"])
	assert.Equal(t, 400.0, body["status_code"])
	fields := map[string]bool{}
	for _, fe := range body["errors"].([]any) {
		fields[fe.(map[string]any)["field"].(string)] = true
	}
	assert.Equal(t, map[string]bool{"name": true, "price": true, "active": true}, fields)

	_, body = e.do(t, http.MethodGet, "/api/products", "")
	assert.Equal(t, 0.0, body["total"], "nothing was written")

	resp, body = e.do(t, http.MethodPost, "/api/products", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid JSON", body["error"])
}

func TestUpdateAndDelete(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.do(t, http.MethodPost, "/api/products", `{"name":"Widget","price":1}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := e.do(t, http.MethodPut, "/api/products/1", `{"price":"2.25"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, 2.25, body["price"])
	assert.Equal(t, "Widget", body["name"])

	resp, _ = e.do(t, http.MethodPut, "/api/products/9", `{"price":"bad"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "a missing row wins over invalid input")

	resp, body = e.do(t, http.MethodGet, "/api/products/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid ID format", body["error"])

	resp, _ = e.do(t, http.MethodDelete, "/api/products/1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	for i := 0; i < 2; i++ {
		resp, body = e.do(t, http.MethodDelete, "/api/products/1", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "products not found", body["error"])
	}
}

func TestDisabledVerbAndUnknownRoutes(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodPost, "/api/archive", `{"note":"x"}`)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST is not enabled for archive", body["detail"])

	resp, body = e.do(t, http.MethodGet, "/api/nothing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not found", body["error"])

	resp, _ = e.do(t, http.MethodPatch, "/api/products/1", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAuthentication(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/api/secured", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Authentication required", body["error"])

	resp, _ = e.do(t, http.MethodGet, "/api/secured", "", "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	user, err := e.jwt.Sign(map[string]any{"sub": "u1", "roles": []string{"viewer"}})
	require.NoError(t, err)
	resp, _ = e.do(t, http.MethodPost, "/api/secured", `{"note":"hi"}`, "Authorization", "Bearer "+user)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = e.do(t, http.MethodDelete, "/api/secured/1", "", "Authorization", "Bearer "+user)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Insufficient permissions", body["error"])

	admin, err := e.jwt.Sign(map[string]any{"sub": "u2", "roles": []string{"admin"}})
	require.NoError(t, err)
	resp, _ = e.do(t, http.MethodDelete, "/api/secured/1", "", "Authorization", "Bearer "+admin)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestSubscriberReceivesOneCreateEvent(t *testing.T) {
	e := newEnv(t)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/products"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.sockets.Count("products") == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, _ := e.do(t, http.MethodPost, "/api/products", `{"name":"Widget","price":"12.50"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "create", ev["type"])
	assert.Equal(t, "products", ev["model"])
	assert.Equal(t, "Widget", ev["data"].(map[string]any)["name"])
	assert.Equal(t, 12.5, ev["data"].(map[string]any)["price"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "no second event")
}

func TestSocketRefusals(t *testing.T) {
	e := newEnv(t)
	base := "ws" + strings.TrimPrefix(e.srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/nothing", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"/ws/secured", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMetaHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/api/meta", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"title": "Shop", "version": "2.0.0", "description": ""}, body["swagger"])
	assert.Len(t, body["tables"], 3)

	resp, body = e.do(t, http.MethodGet, "/api/meta/Product", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "products", body["name"])
	assert.Equal(t, []any{"id"}, body["primary_key"])

	resp, body = e.do(t, http.MethodGet, "/api/meta/archive", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"GET"}, body["methods"])

	resp, body = e.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/metrics", nil)
	require.NoError(t, err)
	mresp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer mresp.Body.Close()
	raw, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "tablegate_http_requests_total")
}

func TestRequestIDIsKept(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.do(t, http.MethodGet, "/healthz", "", RequestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))
}

func TestReservedTableName(t *testing.T) {
	meta, err := schema.NewBuilder("meta").
		Column("id", schema.Integer, schema.PrimaryKey()).
		Build()
	require.NoError(t, err)
	reg, err := endpoint.NewRegistry(endpoint.Model{Table: meta, Config: endpoint.New()})
	require.NoError(t, err)
	_, err = NewRouter(service.New(reg, store.NewMemory(), nil), Options{})
	assert.Error(t, err)
}

func TestAdminCheck(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodPost, "/api/admin/check", "database:\n  url: memory://\ntables:\n  - name: products\n")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, []any{"products"}, body["tables"])

	resp, body = e.do(t, http.MethodPost, "/api/admin/check", "database:\n  url: memory://\ntables:\n  - name: products\n    methods: [FETCH]\n")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid tables document", body["error"])
	assert.Equal(t, "tables[0].methods[0]", body["path"])
	assert.Equal(t, 5.0, body["line"])

	resp, body = e.do(t, http.MethodPost, "/api/admin/check", "tables: [unclosed")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid YAML", body["error"])
}

func TestCORS(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.do(t, http.MethodGet, "/api/products", "", "Origin", "https://shop.example")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://shop.example", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, _ = e.do(t, http.MethodOptions, "/api/products", "",
		"Origin", "https://shop.example", "Access-Control-Request-Method", "POST")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")

	resp, _ = e.do(t, http.MethodGet, "/api/products", "", "Origin", "https://evil.example")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
