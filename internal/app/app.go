// Package app assembles the server from process configuration and the tables
// document.
package app

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tablegate/internal/api"
	"tablegate/internal/apperr"
	"tablegate/internal/auth"
	"tablegate/internal/cache"
	"tablegate/internal/config"
	"tablegate/internal/db"
	"tablegate/internal/endpoint"
	"tablegate/internal/metrics"
	"tablegate/internal/schema"
	"tablegate/internal/service"
	"tablegate/internal/store"
	"tablegate/internal/tableconf"
	"tablegate/internal/ws"
)

type Options struct {
	Config config.Config
	// Document replaces loading Config.Tables.
	Document *tableconf.Document
	// Static models are registered next to the document's tables. Their
	// tables are created when missing.
	Static []endpoint.Model
	Log    *zap.Logger
}

type App struct {
	cfg     config.Config
	log     *zap.Logger
	Metrics *metrics.Metrics
	Sockets *ws.Manager
	Service *service.Service
	Router  *gin.Engine

	store store.Store
	cache cache.Provider
}

func New(ctx context.Context, o Options) (*App, error) {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	doc := o.Document
	if doc == nil {
		var err error
		if doc, err = tableconf.Load(o.Config.Tables); err != nil {
			return nil, err
		}
	}
	dbURL := doc.Database.URL
	if o.Config.DatabaseURL != "" {
		dbURL = o.Config.DatabaseURL
	}

	a := &App{cfg: o.Config, log: o.Log, Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	tables, err := a.openStore(ctx, dbURL, doc, o.Static)
	if err != nil {
		return nil, err
	}
	if a.cache, err = a.openCache(ctx, doc); err != nil {
		return nil, err
	}
	provider, err := authProvider(doc.Authentication)
	if err != nil {
		return nil, err
	}

	models := make([]endpoint.Model, 0, len(doc.Tables)+len(o.Static))
	for i, t := range doc.Tables {
		models = append(models, endpoint.Model{
			Table:  tables[i],
			Config: endpoint.New(a.endpointOptions(t, doc.Cache.TTL, provider)...),
		})
	}
	models = append(models, o.Static...)
	reg, err := endpoint.NewRegistry(models...)
	if err != nil {
		return nil, err
	}

	a.Sockets = ws.NewManager(o.Log.Named("ws"), a.Metrics)
	a.Service = service.New(reg, a.store, o.Log,
		service.WithBroadcaster(a.Sockets),
		service.WithMetrics(a.Metrics))
	a.Router, err = api.NewRouter(a.Service, api.Options{
		Log:         o.Log,
		Metrics:     a.Metrics,
		Sockets:     a.Sockets,
		Info:        api.Info(doc.Swagger),
		CORSOrigins: o.Config.CORSOrigins,
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(models))
	for _, m := range reg.Models() {
		names = append(names, m.Name())
	}
	o.Log.Info("tables registered", zap.Strings("tables", names), zap.String("database", redact(dbURL)))
	ok = true
	return a, nil
}

// openStore connects the backend and returns one descriptor per document
// table, in document order.
func (a *App) openStore(ctx context.Context, dbURL string, doc *tableconf.Document, static []endpoint.Model) ([]*schema.Table, error) {
	d, _, err := db.Parse(dbURL)
	if err != nil {
		return nil, apperr.Configuration(err)
	}

	tables := make([]*schema.Table, len(doc.Tables))
	var declared []*schema.Table
	for i, t := range doc.Tables {
		if len(t.Columns) == 0 {
			if d == db.Memory {
				return nil, apperr.Configuration(errors.Errorf("table %q: the memory store needs declared columns", t.Name))
			}
			continue
		}
		if tables[i], err = declare(t); err != nil {
			return nil, apperr.Configuration(err)
		}
		declared = append(declared, tables[i])
	}

	if d == db.Memory {
		a.store = store.NewMemory()
		return tables, nil
	}

	gdb, d, err := db.Open(ctx, dbURL, a.log.Named("gorm"))
	if err != nil {
		return nil, apperr.Configuration(err)
	}
	a.store = store.NewSQL(gdb)

	var create []*schema.Table
	if doc.Database.AutoMigrate {
		create = append(create, declared...)
	}
	for _, m := range static {
		create = append(create, m.Table)
	}
	if len(create) > 0 {
		if err := db.Migrate(ctx, gdb, d, create, a.log); err != nil {
			return nil, apperr.Configuration(err)
		}
	}

	var missing []string
	for i, t := range doc.Tables {
		if tables[i] != nil {
			continue
		}
		tables[i], err = db.Reflect(ctx, gdb, t.Name, a.log, relationships(t)...)
		switch {
		case errors.Is(err, db.ErrNoTable):
			missing = append(missing, t.Name)
		case err != nil:
			return nil, apperr.Configuration(err)
		}
	}
	if len(missing) > 0 {
		return nil, apperr.Configuration(errors.Errorf("Tables not found in database: %s. Available tables: %s",
			strings.Join(missing, ", "), strings.Join(available(ctx, gdb), ", ")))
	}
	return tables, nil
}

func available(ctx context.Context, gdb *gorm.DB) []string {
	names, err := gdb.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return nil
	}
	sort.Strings(names)
	return names
}

// declare builds the descriptor of a table whose columns are listed in the
// document.
func declare(t tableconf.Table) (*schema.Table, error) {
	b := schema.NewBuilder(t.Name)
	for _, c := range t.Columns {
		var opts []schema.ColumnOption
		if c.PrimaryKey {
			opts = append(opts, schema.PrimaryKey())
		}
		if c.AutoIncrement {
			opts = append(opts, schema.AutoIncrement())
		}
		if c.Nullable {
			opts = append(opts, schema.Nullable())
		}
		if c.Default != "" {
			opts = append(opts, schema.Default(c.Default))
		}
		b.Column(c.Name, schema.Type(c.Type), opts...)
	}
	for _, r := range relationships(t) {
		b.Relationship(r)
	}
	return b.Build()
}

func relationships(t tableconf.Table) []schema.Relationship {
	out := make([]schema.Relationship, 0, len(t.Relationships))
	for _, r := range t.Relationships {
		out = append(out, schema.Relationship{
			Name:         r.Name,
			Column:       r.Column,
			Target:       r.Target,
			TargetColumn: r.TargetColumn,
			Cardinality:  schema.Cardinality(r.Cardinality),
		})
	}
	return out
}

// openCache builds the provider shared by every caching table, or nil when
// no table caches.
func (a *App) openCache(ctx context.Context, doc *tableconf.Document) (cache.Provider, error) {
	used := false
	for _, t := range doc.Tables {
		used = used || t.Features.Caching
	}
	if !used {
		return nil, nil
	}
	if doc.Cache.Backend != tableconf.CacheRedis {
		return cache.NewMemory(doc.Cache.SizeBytes), nil
	}
	u := doc.Cache.URL
	if u == "" {
		u = a.cfg.RedisURL
	}
	r, err := cache.NewRedisFromURL(ctx, u, doc.Cache.Prefix)
	if err != nil {
		return nil, apperr.Configuration(err)
	}
	return r, nil
}

// authProvider builds the provider tableconf selected; JWT wins when both
// are usable.
func authProvider(a tableconf.Authentication) (auth.Provider, error) {
	switch a.Provider() {
	case tableconf.ProviderJWT:
		p, err := auth.NewJWT(a.JWT.SecretKey, a.JWT.Algorithm)
		if err != nil {
			return nil, apperr.Configuration(err)
		}
		return p, nil
	case tableconf.ProviderOAuth2:
		p, err := auth.NewOAuth2(auth.OAuth2Config{
			ClientID:     a.OAuth2.ClientID,
			ClientSecret: a.OAuth2.ClientSecret,
			AuthURL:      a.OAuth2.AuthURL,
			TokenURL:     a.OAuth2.TokenURL,
			UserInfoURL:  a.OAuth2.UserInfoURL,
		})
		if err != nil {
			return nil, apperr.Configuration(err)
		}
		return p, nil
	}
	return nil, nil
}

func (a *App) endpointOptions(t tableconf.Table, ttl time.Duration, provider auth.Provider) []endpoint.Option {
	f := t.Features
	opts := []endpoint.Option{
		endpoint.WithMethods(t.Methods...),
		endpoint.WithPagination(endpoint.Pagination{
			Enabled:      f.Pagination.Enabled,
			DefaultLimit: f.Pagination.DefaultPageSize,
			MaxLimit:     f.Pagination.MaxPageSize,
		}),
		endpoint.WithFeatures(endpoint.Features{
			Filtering: f.Filtering,
			Sorting:   f.Sorting,
			Caching:   f.Caching,
			GraphQL:   f.GraphQL,
			WebSocket: f.WebSocket,
		}),
		endpoint.WithDepth(endpoint.Depth(f.Depth)),
		endpoint.WithWebSocketHandler(ws.Echo{Log: a.log.Named("ws")}),
	}
	if t.Authentication.Required && provider != nil {
		opts = append(opts, endpoint.WithAuth(provider, t.Authentication.Roles...))
	}
	for verb, roles := range t.Permissions {
		opts = append(opts, endpoint.WithPermissions(verb, roles...))
	}
	if f.Caching && a.cache != nil {
		opts = append(opts, endpoint.WithCache(a.cache, ttl))
	}
	return opts
}

// Handler is the HTTP entry point.
func (a *App) Handler() http.Handler { return a.Router }

// Run serves until ctx is cancelled, then shuts down within the configured
// timeout. WebSocket subscribers are closed with 1001.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		a.Sockets.CloseAll(1001, "server shutting down")
	})

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", zap.String("addr", a.cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	a.log.Info("shutting down", zap.Duration("timeout", a.cfg.ShutdownTimeout))
	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return <-errCh
}

// Close releases the store and the cache.
func (a *App) Close() error {
	var first error
	if a.cache != nil {
		first = a.cache.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// redact hides the password of a database URL for logging.
func redact(raw string) string {
	at := strings.LastIndexByte(raw, '@')
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	creds := raw[scheme+3 : at]
	if i := strings.IndexByte(creds, ':'); i >= 0 {
		return raw[:scheme+3] + creds[:i] + ":***" + raw[at:]
	}
	return raw
}
