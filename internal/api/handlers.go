package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"tablegate/internal/apperr"
	"tablegate/internal/endpoint"
	"tablegate/internal/service"
)

// GET /api/:table
func ListHandler(svc *service.Service, m *endpoint.Model) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if _, err := svc.Authorize(ctx, c.Request, m, endpoint.GET); err != nil {
			abort(c, err)
			return
		}
		page, err := svc.List(ctx, m, c.Request.URL.Query())
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// GET /api/:table/:id
func GetOneHandler(svc *service.Service, m *endpoint.Model) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if _, err := svc.Authorize(ctx, c.Request, m, endpoint.GET); err != nil {
			abort(c, err)
			return
		}
		id, err := svc.ParseID(m, c.Param("id"))
		if err != nil {
			abort(c, err)
			return
		}
		row, err := svc.Get(ctx, m, id)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	}
}

// POST /api/:table
func CreateHandler(svc *service.Service, m *endpoint.Model) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if _, err := svc.Authorize(ctx, c.Request, m, endpoint.POST); err != nil {
			abort(c, err)
			return
		}
		body, err := readObject(c)
		if err != nil {
			abort(c, err)
			return
		}
		row, err := svc.Create(ctx, m, body)
		if err != nil {
			abort(c, err)
			return
		}
		c.Header("Location", fmt.Sprintf("%s://%s/api/%s/%v", scheme(c.Request), c.Request.Host, m.Name(), row[m.Table.PK().Name]))
		c.JSON(http.StatusCreated, row)
	}
}

// PUT /api/:table/:id
func UpdateHandler(svc *service.Service, m *endpoint.Model) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if _, err := svc.Authorize(ctx, c.Request, m, endpoint.PUT); err != nil {
			abort(c, err)
			return
		}
		id, err := svc.ParseID(m, c.Param("id"))
		if err != nil {
			abort(c, err)
			return
		}
		body, err := readObject(c)
		if err != nil {
			abort(c, err)
			return
		}
		row, err := svc.Update(ctx, m, id, body)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	}
}

// DELETE /api/:table/:id
func DeleteHandler(svc *service.Service, m *endpoint.Model) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if _, err := svc.Authorize(ctx, c.Request, m, endpoint.DELETE); err != nil {
			abort(c, err)
			return
		}
		id, err := svc.ParseID(m, c.Param("id"))
		if err != nil {
			abort(c, err)
			return
		}
		if err := svc.Delete(ctx, m, id); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// readObject decodes the request body as a JSON object. Numbers are kept as
// json.Number so large integers survive.
func readObject(c *gin.Context) (map[string]any, error) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, invalidBody(err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, invalidBody(err)
	}
	if body == nil {
		return nil, invalidBody(errors.New("body must be a JSON object"))
	}
	return body, nil
}

func invalidBody(err error) error {
	e := apperr.Validation("Invalid JSON")
	e.Detail = err.Error()
	return e
}

func scheme(r *http.Request) string {
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		return p
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
