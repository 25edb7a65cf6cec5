package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tablegate/internal/endpoint"
	"tablegate/internal/schema"
	"tablegate/internal/service"
)

// Info is the descriptive block published at /api/meta.
type Info struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

type metaTable struct {
	Name          string                `json:"name"`
	Columns       []schema.Column       `json:"columns"`
	PrimaryKey    []string              `json:"primary_key"`
	Relationships []schema.Relationship `json:"relationships"`
	Methods       []string              `json:"methods"`
	Permissions   map[string][]string   `json:"permissions,omitempty"`
	Authenticated bool                  `json:"authenticated"`
	Pagination    endpoint.Pagination   `json:"pagination"`
	Features      endpoint.Features     `json:"features"`
	Depth         endpoint.Depth        `json:"relationship_depth"`
}

func describe(m *endpoint.Model) metaTable {
	rels := m.Table.Relationships
	if rels == nil {
		rels = []schema.Relationship{}
	}
	return metaTable{
		Name:          m.Name(),
		Columns:       m.Table.Columns,
		PrimaryKey:    m.Table.PrimaryKey,
		Relationships: rels,
		Methods:       m.Config.Methods(),
		Permissions:   m.Config.Permissions(),
		Authenticated: m.Config.Auth() != nil,
		Pagination:    m.Config.Pagination(),
		Features:      m.Config.Features(),
		Depth:         m.Config.Depth(),
	}
}

// GET /api/meta
func MetaListHandler(svc *service.Service, info Info) gin.HandlerFunc {
	return func(c *gin.Context) {
		models := svc.Registry().Models()
		tables := make([]metaTable, 0, len(models))
		for _, m := range models {
			tables = append(tables, describe(m))
		}
		c.JSON(http.StatusOK, gin.H{"swagger": info, "tables": tables})
	}
}

// GET /api/meta/:table
func MetaTableHandler(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := svc.Registry().Lookup(c.Param("table"))
		if !ok {
			abort(c, tableNotFound(c.Param("table")))
			return
		}
		c.JSON(http.StatusOK, describe(m))
	}
}

// GET /healthz
func HealthHandler(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Ping(c.Request.Context()); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
