package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"tablegate/internal/apperr"
	"tablegate/internal/tableconf"
)

// maxDocument bounds the body of a document check.
const maxDocument = 1 << 20

// POST /api/admin/check
//
// Validates a tables document sent as the request body without applying it.
// The running registry is never replaced; a valid document takes effect on
// the next start.
func AdminCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocument+1))
		if err != nil {
			abort(c, invalidBody(err))
			return
		}
		if len(raw) > maxDocument {
			abort(c, apperr.Validation("Document too large"))
			return
		}

		doc, err := tableconf.Parse(raw)
		if err != nil {
			var verr *tableconf.Error
			if !errors.As(err, &verr) {
				e := apperr.Validation("Invalid YAML")
				e.Detail = apperr.From(err).Detail
				abort(c, e)
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{
				"error":       "Invalid tables document",
				"detail":      verr.Error(),
				"path":        verr.Path,
				"line":        verr.Line,
				"status_code": http.StatusBadRequest,
			})
			return
		}

		names := make([]string, 0, len(doc.Tables))
		for _, t := range doc.Tables {
			names = append(names, t.Name)
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "tables": names})
	}
}
