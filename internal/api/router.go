// Package api serves the REST surface of the registered tables plus the
// GraphQL, WebSocket, meta, health and metrics routes.
package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tablegate/internal/apperr"
	"tablegate/internal/endpoint"
	"tablegate/internal/graphql"
	"tablegate/internal/metrics"
	"tablegate/internal/service"
	"tablegate/internal/ws"
)

type Options struct {
	Log     *zap.Logger
	Metrics *metrics.Metrics
	// Sockets serves /ws/:table; nil disables the route.
	Sockets *ws.Manager
	Info    Info
	// CORSOrigins enables CORS headers for the listed origins ("*" for any).
	CORSOrigins []string
}

// reserved are /api/<name> paths owned by the router itself.
var reserved = map[string]struct{}{"meta": {}, "admin": {}}

// NewRouter builds the engine. Every table gets all four verbs; disabled
// ones answer 405 from the handler.
func NewRouter(svc *service.Service, o Options) (*gin.Engine, error) {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	for _, m := range svc.Registry().Models() {
		if _, clash := reserved[strings.ToLower(m.Name())]; clash {
			return nil, apperr.Configuration(errors.Errorf("table name %q collides with /api/%s", m.Name(), m.Name()))
		}
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(requestID(), accessLog(o.Log), observe(o.Metrics), recovery(o.Log))
	if len(o.CORSOrigins) > 0 {
		r.Use(cors(o.CORSOrigins))
	}
	r.NoRoute(func(c *gin.Context) {
		abort(c, apperr.NotFound("Not found"))
	})
	r.NoMethod(func(c *gin.Context) {
		abort(c, &apperr.Error{Kind: apperr.KindMethodNotAllowed, Message: "Method not allowed"})
	})

	r.GET("/healthz", HealthHandler(svc))
	r.GET("/metrics", gin.WrapH(o.Metrics.Handler()))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/meta", MetaListHandler(svc, o.Info))
		apiGroup.GET("/meta/:table", MetaTableHandler(svc))
		apiGroup.POST("/admin/check", AdminCheckHandler())

		for _, m := range svc.Registry().Models() {
			base := "/" + m.Name()
			apiGroup.GET(base, ListHandler(svc, m))
			apiGroup.POST(base, CreateHandler(svc, m))
			apiGroup.GET(base+"/:id", GetOneHandler(svc, m))
			apiGroup.PUT(base+"/:id", UpdateHandler(svc, m))
			apiGroup.DELETE(base+"/:id", DeleteHandler(svc, m))
		}
	}

	gql := graphql.New(svc, o.Log)
	r.POST("/graphql", gql.Serve)
	r.GET("/graphql", gql.Hint)

	if o.Sockets != nil {
		r.GET("/ws/:table", SocketHandler(svc, o.Sockets, o.Log))
	}
	return r, nil
}

// GET /ws/:table
//
// Unknown tables and tables with the websocket feature off are refused before
// the upgrade. Subscribing needs the table's GET permission.
func SocketHandler(svc *service.Service, sockets *ws.Manager, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := svc.Registry().Get(c.Param("table"))
		if !ok || !m.Config.Features().WebSocket {
			abort(c, tableNotFound(c.Param("table")))
			return
		}
		if _, err := svc.Authorize(c.Request.Context(), c.Request, m, endpoint.GET); err != nil {
			abort(c, err)
			return
		}
		if err := sockets.Serve(c.Writer, c.Request, m.Name(), m.Config.WebSocket()); err != nil {
			log.Debug("websocket session ended", zap.String("table", m.Name()), zap.Error(err))
		}
		// the connection is hijacked; nothing may be written afterwards
		c.Abort()
	}
}

func tableNotFound(name string) error {
	e := apperr.NotFound(fmt.Sprintf("%s not found", name))
	e.Detail = "no such table"
	return e
}
