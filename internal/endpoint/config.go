// Package endpoint holds the per-table endpoint configuration and the
// registry of exposed tables.
package endpoint

import (
	"strings"
	"time"

	"tablegate/internal/auth"
	"tablegate/internal/cache"
	"tablegate/internal/query"
	"tablegate/internal/ws"
)

const (
	GET    = "GET"
	POST   = "POST"
	PUT    = "PUT"
	DELETE = "DELETE"
)

// Methods lists every verb an endpoint can expose.
var Methods = []string{GET, POST, PUT, DELETE}

type Depth string

const (
	Shallow Depth = "shallow"
	Deep    Depth = "deep"
)

type Pagination struct {
	Enabled      bool `json:"enabled"`
	DefaultLimit int  `json:"default_page_size"`
	MaxLimit     int  `json:"max_page_size"`
}

type Features struct {
	Filtering bool `json:"filtering"`
	Sorting   bool `json:"sorting"`
	Caching   bool `json:"caching"`
	GraphQL   bool `json:"graphql"`
	WebSocket bool `json:"websocket"`
}

// AllFeatures is the default feature set.
var AllFeatures = Features{Filtering: true, Sorting: true, Caching: true, GraphQL: true, WebSocket: true}

// Config is built once by New and never changes afterwards. It is passed by
// value; slice and map getters return copies.
type Config struct {
	provider     auth.Provider
	defaultRoles []string
	permissions  map[string][]string

	cache       cache.Provider
	cachedVerbs map[string]struct{}
	cacheTTL    time.Duration

	pagination Pagination
	features   Features
	methods    []string
	depth      Depth
	wsHandler  ws.Handler
}

type Option func(*Config)

// WithAuth requires authentication through p. roles apply to every verb
// without an explicit permission entry; empty means any authenticated user.
func WithAuth(p auth.Provider, roles ...string) Option {
	return func(c *Config) {
		c.provider = p
		c.defaultRoles = append([]string(nil), roles...)
	}
}

// WithPermissions sets the roles allowed to call verb.
func WithPermissions(verb string, roles ...string) Option {
	return func(c *Config) {
		c.permissions[strings.ToUpper(verb)] = append([]string(nil), roles...)
	}
}

// WithCache caches responses of the given verbs (GET when none are given).
func WithCache(p cache.Provider, ttl time.Duration, verbs ...string) Option {
	return func(c *Config) {
		c.cache = p
		if ttl > 0 {
			c.cacheTTL = ttl
		}
		if len(verbs) > 0 {
			c.cachedVerbs = map[string]struct{}{}
			for _, v := range verbs {
				c.cachedVerbs[strings.ToUpper(v)] = struct{}{}
			}
		}
	}
}

func WithPagination(p Pagination) Option {
	return func(c *Config) { c.pagination = p }
}

func WithFeatures(f Features) Option {
	return func(c *Config) { c.features = f }
}

// WithMethods restricts the exposed verbs.
func WithMethods(verbs ...string) Option {
	return func(c *Config) {
		c.methods = c.methods[:0]
		for _, v := range verbs {
			c.methods = append(c.methods, strings.ToUpper(v))
		}
	}
}

func WithDepth(d Depth) Option {
	return func(c *Config) { c.depth = d }
}

func WithWebSocketHandler(h ws.Handler) Option {
	return func(c *Config) { c.wsHandler = h }
}

// New applies opts over the defaults: every verb allowed, pagination 10/100,
// every feature on, GET cached for five minutes once a provider is set,
// shallow relationships and the echo WebSocket handler.
func New(opts ...Option) Config {
	c := Config{
		permissions: map[string][]string{},
		cachedVerbs: map[string]struct{}{GET: {}},
		cacheTTL:    cache.DefaultTTL,
		pagination:  Pagination{Enabled: true, DefaultLimit: query.DefaultLimit, MaxLimit: query.MaxLimit},
		features:    AllFeatures,
		methods:     append([]string(nil), Methods...),
		depth:       Shallow,
	}
	for _, o := range opts {
		o(&c)
	}
	if c.pagination.MaxLimit <= 0 {
		c.pagination.MaxLimit = query.MaxLimit
	}
	if c.pagination.DefaultLimit <= 0 {
		c.pagination.DefaultLimit = query.DefaultLimit
	}
	if c.wsHandler == nil {
		c.wsHandler = ws.Echo{}
	}
	return c
}

func (c Config) Auth() auth.Provider { return c.provider }

// Roles returns the roles required for verb.
func (c Config) Roles(verb string) []string {
	if r, ok := c.permissions[strings.ToUpper(verb)]; ok {
		return append([]string(nil), r...)
	}
	return append([]string(nil), c.defaultRoles...)
}

func (c Config) Permissions() map[string][]string {
	out := make(map[string][]string, len(c.permissions))
	for k, v := range c.permissions {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (c Config) Cache() cache.Provider   { return c.cache }
func (c Config) CacheTTL() time.Duration { return c.cacheTTL }

// Cached reports whether responses to verb are read from and written to the
// cache.
func (c Config) Cached(verb string) bool {
	if c.cache == nil || !c.features.Caching {
		return false
	}
	_, ok := c.cachedVerbs[strings.ToUpper(verb)]
	return ok
}

func (c Config) Pagination() Pagination { return c.pagination }
func (c Config) Features() Features     { return c.features }
func (c Config) Depth() Depth           { return c.depth }
func (c Config) Deep() bool             { return c.depth == Deep }
func (c Config) WebSocket() ws.Handler  { return c.wsHandler }
func (c Config) Methods() []string      { return append([]string(nil), c.methods...) }

func (c Config) Allowed(verb string) bool {
	verb = strings.ToUpper(verb)
	for _, m := range c.methods {
		if m == verb {
			return true
		}
	}
	return false
}

// QueryOptions shapes list descriptors for this endpoint.
func (c Config) QueryOptions() query.Options {
	return query.Options{
		Filtering:    c.features.Filtering,
		Sorting:      c.features.Sorting,
		Pagination:   c.pagination.Enabled,
		DefaultLimit: c.pagination.DefaultLimit,
		MaxLimit:     c.pagination.MaxLimit,
	}
}
