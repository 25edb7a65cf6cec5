package api

import (
	"github.com/gin-gonic/gin"

	"tablegate/internal/apperr"
)

// abort renders err as the error envelope and stops the handler chain.
//
//	{"error": "...", "detail": "...", "status_code": 404}
//	{"error": "Validation failed", "errors": [{"field": ..., "message": ...}], "status_code": 400}
func abort(c *gin.Context, err error) {
	e := apperr.From(err)
	_ = c.Error(err)
	status := e.StatusCode()

	body := gin.H{"error": e.Message, "status_code": status}
	if len(e.Fields) > 0 {
		body["errors"] = e.Fields
	}
	if e.Detail != "" {
		body["detail"] = e.Detail
	}
	c.AbortWithStatusJSON(status, body)
}
