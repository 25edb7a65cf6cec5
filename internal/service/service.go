// Package service runs the table operations shared by the REST, GraphQL and
// WebSocket surfaces: authorization, conversion, execution, serialization and
// the side effects of writes.
package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tablegate/internal/apperr"
	"tablegate/internal/auth"
	"tablegate/internal/cache"
	"tablegate/internal/convert"
	"tablegate/internal/endpoint"
	"tablegate/internal/metrics"
	"tablegate/internal/query"
	"tablegate/internal/schema"
	"tablegate/internal/serialize"
	"tablegate/internal/store"
	"tablegate/internal/ws"
)

// Broadcaster fans write events out to subscribers of a table.
type Broadcaster interface {
	Broadcast(table string, ev ws.Event) int
}

type Service struct {
	registry *endpoint.Registry
	store    store.Store
	events   Broadcaster
	ser      *serialize.Serializer
	log      *zap.Logger
	metrics  *metrics.Metrics

	now     func() time.Time
	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

type Option func(*Service)

func WithBroadcaster(b Broadcaster) Option  { return func(s *Service) { s.events = b } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock replaces time.Now for generated timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(reg *endpoint.Registry, st store.Store, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		registry: reg,
		store:    st,
		log:      log,
		now:      time.Now,
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
	for _, o := range opts {
		o(s)
	}
	s.ser = serialize.New(s)
	return s
}

func (s *Service) Registry() *endpoint.Registry { return s.registry }

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// Lookup implements serialize.Loader.
func (s *Service) Lookup(table string) (*schema.Table, bool) { return s.registry.Table(table) }

// Related implements serialize.Loader.
func (s *Service) Related(ctx context.Context, t *schema.Table, column string, value any) ([]map[string]any, error) {
	return s.store.Related(ctx, t, column, value)
}

// Authorize checks that verb is enabled for m and that r carries a user with
// one of the verb's roles.
func (s *Service) Authorize(ctx context.Context, r *http.Request, m *endpoint.Model, verb string) (*auth.User, error) {
	if !m.Config.Allowed(verb) {
		return nil, apperr.MethodNotAllowed(verb, m.Name())
	}
	res := auth.Check(ctx, m.Config.Auth(), r, m.Config.Roles(verb))
	if !res.OK() {
		s.log.Debug("request rejected",
			zap.String("table", m.Name()),
			zap.String("verb", verb),
			zap.Stringer("outcome", res.Outcome),
			zap.String("reason", res.Reason))
		return nil, res.Err()
	}
	return res.User, nil
}

// ParseID converts a raw path id to the primary key's type.
func (s *Service) ParseID(m *endpoint.Model, raw string) (any, error) {
	id, err := convert.ID(m.Table.PK(), raw)
	if err != nil {
		e := apperr.Validation("Invalid ID format")
		e.Detail = err.Error()
		return nil, e
	}
	return id, nil
}

// List serves a REST list request, consulting the cache under the
// normalized query string.
func (s *Service) List(ctx context.Context, m *endpoint.Model, q url.Values) (query.Page, error) {
	return s.list(ctx, m, query.FromValues(q), cache.ListKey(m.Name(), q))
}

// Find lists with already decoded arguments (GraphQL). It bypasses the cache.
func (s *Service) Find(ctx context.Context, m *endpoint.Model, args map[string]any) (query.Page, error) {
	return s.list(ctx, m, args, "")
}

func (s *Service) list(ctx context.Context, m *endpoint.Model, params map[string]any, key string) (query.Page, error) {
	var page query.Page
	if key != "" && s.cached(ctx, m, key, &page) {
		return page, nil
	}

	d := query.Parse(m.Table, params, m.Config.QueryOptions())
	rows, total, err := s.store.List(ctx, d)
	if err != nil {
		return page, err
	}
	items, err := s.ser.Many(ctx, m.Table, rows, m.Config.Deep())
	if err != nil {
		return page, apperr.Framework(err)
	}
	page = d.Result(items, total)

	if key != "" {
		s.remember(ctx, m, key, page)
	}
	return page, nil
}

// Get returns one serialized row.
func (s *Service) Get(ctx context.Context, m *endpoint.Model, id any) (map[string]any, error) {
	key := cache.DetailKey(m.Name(), id)
	var out map[string]any
	if s.cached(ctx, m, key, &out) {
		return out, nil
	}
	row, err := s.store.Get(ctx, m.Table, id)
	if err != nil {
		return nil, err
	}
	out, err = s.ser.One(ctx, m.Table, row, m.Config.Deep())
	if err != nil {
		return nil, apperr.Framework(err)
	}
	s.remember(ctx, m, key, out)
	return out, nil
}

// Create validates body, inserts it and publishes the new row.
func (s *Service) Create(ctx context.Context, m *endpoint.Model, body map[string]any) (map[string]any, error) {
	values, ferrs := convert.Create(m.Table, body)
	if len(ferrs) > 0 {
		return nil, apperr.Validation("Validation failed", ferrs...)
	}

	now := s.now().UTC()
	s.stamp(m.Table, values, now, true)
	if pk := m.Table.PK(); pk.Type == schema.String && !pk.HasDefault {
		if v, ok := values[pk.Name]; !ok || v == nil || v == "" {
			values[pk.Name] = s.newID(now)
		}
	}

	row, err := s.store.Insert(ctx, m.Table, values)
	if err != nil {
		return nil, err
	}
	out, err := s.ser.One(ctx, m.Table, row, m.Config.Deep())
	if err != nil {
		return nil, apperr.Framework(err)
	}
	s.published(ctx, m, ws.EventCreate, out[m.Table.PK().Name], out)
	return out, nil
}

// Update applies the fields present in body to the row with id. A missing row
// wins over invalid input.
func (s *Service) Update(ctx context.Context, m *endpoint.Model, id any, body map[string]any) (map[string]any, error) {
	if _, err := s.store.Get(ctx, m.Table, id); err != nil {
		return nil, err
	}
	values, ferrs := convert.Update(m.Table, body)
	if len(ferrs) > 0 {
		return nil, apperr.Validation("Validation failed", ferrs...)
	}
	s.stamp(m.Table, values, s.now().UTC(), false)

	row, err := s.store.Update(ctx, m.Table, id, values)
	if err != nil {
		return nil, err
	}
	out, err := s.ser.One(ctx, m.Table, row, m.Config.Deep())
	if err != nil {
		return nil, apperr.Framework(err)
	}
	s.published(ctx, m, ws.EventUpdate, id, out)
	return out, nil
}

func (s *Service) Delete(ctx context.Context, m *endpoint.Model, id any) error {
	if err := s.store.Delete(ctx, m.Table, id); err != nil {
		return err
	}
	s.published(ctx, m, ws.EventDelete, id, map[string]any{"id": id})
	return nil
}

func (s *Service) stamp(t *schema.Table, values map[string]any, now time.Time, created bool) {
	if created && t.HasColumn(schema.CreatedAt) {
		values[schema.CreatedAt] = now
	}
	if t.HasColumn(schema.UpdatedAt) {
		values[schema.UpdatedAt] = now
	}
}

func (s *Service) newID(now time.Time) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

// published runs the side effects of a committed write. Failures are logged
// and never reach the caller.
func (s *Service) published(ctx context.Context, m *endpoint.Model, kind string, id any, data any) {
	if p := m.Config.Cache(); p != nil {
		if err := cache.Invalidate(ctx, p, m.Name(), id); err != nil {
			s.log.Warn("cache invalidation failed", zap.String("table", m.Name()), zap.Any("id", id), zap.Error(err))
		}
	}
	if s.events != nil && m.Config.Features().WebSocket {
		n := s.events.Broadcast(m.Name(), ws.Event{Type: kind, Model: m.Name(), Data: data})
		s.log.Debug("broadcast", zap.String("table", m.Name()), zap.String("type", kind), zap.Int("delivered", n))
	}
}

// cached decodes the entry under key into dst. Numbers stay json.Number so a
// cached response renders exactly like a fresh one.
func (s *Service) cached(ctx context.Context, m *endpoint.Model, key string, dst any) bool {
	if !m.Config.Cached(endpoint.GET) {
		return false
	}
	b, err := m.Config.Cache().Get(ctx, key)
	switch {
	case errors.Is(err, cache.ErrMiss):
		s.metrics.CacheResult(m.Name(), "miss")
		return false
	case err != nil:
		s.metrics.CacheResult(m.Name(), "error")
		s.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		s.metrics.CacheResult(m.Name(), "error")
		s.log.Warn("cache entry unreadable", zap.String("key", key), zap.Error(err))
		return false
	}
	s.metrics.CacheResult(m.Name(), "hit")
	return true
}

func (s *Service) remember(ctx context.Context, m *endpoint.Model, key string, v any) {
	if !m.Config.Cached(endpoint.GET) {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := m.Config.Cache().Set(ctx, key, b, m.Config.CacheTTL()); err != nil {
		s.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
