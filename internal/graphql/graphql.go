// Package graphql answers GraphQL documents against the registered tables.
// There is no schema: the document is parsed, one top-level field is picked
// and resolved through the same operations as the REST handlers.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"go.uber.org/zap"

	"tablegate/internal/apperr"
	"tablegate/internal/endpoint"
	"tablegate/internal/query"
	"tablegate/internal/service"
)

// Request is the POST body.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

type Handler struct {
	svc *service.Service
	log *zap.Logger
}

func New(svc *service.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log.Named("graphql")}
}

// Hint answers GET /graphql.
func (h *Handler) Hint(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "GraphQL endpoint - use POST for queries"})
}

// Serve answers POST /graphql.
func (h *Handler) Serve(c *gin.Context) {
	var req Request
	raw, err := io.ReadAll(c.Request.Body)
	if err == nil && len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		err = dec.Decode(&req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}
	status, body := h.Execute(c.Request.Context(), c.Request, req)
	if status >= http.StatusInternalServerError {
		h.log.Error("graphql request failed", zap.Any("response", body))
	}
	c.JSON(status, body)
}

// Execute resolves req. r carries the credentials checked by the table's
// auth provider.
func (h *Handler) Execute(ctx context.Context, r *http.Request, req Request) (int, any) {
	if strings.TrimSpace(req.Query) == "" {
		return fail(http.StatusBadRequest, "Query is required")
	}
	doc, perr := parser.ParseQuery(&ast.Source{Name: "request", Input: req.Query})
	if perr != nil {
		return fail(http.StatusBadRequest, "Syntax error: "+perr.Error())
	}
	op := operation(doc, req.OperationName)
	if op == nil {
		return fail(http.StatusBadRequest, "No operation found")
	}
	sel := newSelector(doc)
	top := sel.fields(op.SelectionSet)
	if len(top) == 0 {
		return fail(http.StatusBadRequest, "No field selected")
	}
	field := top[0]
	for _, f := range top {
		if req.OperationName != "" && (f.Name == req.OperationName || f.Alias == req.OperationName) {
			field = f
			break
		}
	}

	// Variables the operation does not declare are arguments in their own
	// right; inline arguments win.
	args := make(map[string]any, len(field.Arguments)+len(req.Variables))
	declared := make(map[string]struct{}, len(op.VariableDefinitions))
	for _, d := range op.VariableDefinitions {
		declared[d.Variable] = struct{}{}
	}
	for k, v := range req.Variables {
		if _, ok := declared[k]; !ok {
			args[k] = v
		}
	}
	for _, a := range field.Arguments {
		v, err := a.Value.Value(req.Variables)
		if err != nil {
			return fail(http.StatusBadRequest, fmt.Sprintf("argument %s: %v", a.Name, err))
		}
		args[a.Name] = v
	}

	var (
		result any
		err    error
	)
	switch op.Operation {
	case ast.Query:
		if strings.HasPrefix(field.Name, "__") {
			result = h.introspect(field.Name, args)
			break
		}
		result, err = h.query(ctx, r, field.Name, args)
	case ast.Mutation:
		result, err = h.mutate(ctx, r, field.Name, args)
	default:
		return fail(http.StatusBadRequest, fmt.Sprintf("Unsupported operation: %s", op.Operation))
	}
	if err != nil {
		return failure(err)
	}
	return http.StatusOK, gin.H{"data": gin.H{field.Alias: sel.project(result, field.SelectionSet)}}
}

func (h *Handler) model(name, kind string) (*endpoint.Model, error) {
	m, ok := h.svc.Registry().Lookup(name)
	if !ok || !m.Config.Features().GraphQL {
		return nil, apperr.Validation(fmt.Sprintf("Model not found for %s: %s", kind, name))
	}
	return m, nil
}

func (h *Handler) query(ctx context.Context, r *http.Request, name string, args map[string]any) (any, error) {
	m, err := h.model(name, "query")
	if err != nil {
		return nil, err
	}
	if _, err := h.svc.Authorize(ctx, r, m, endpoint.GET); err != nil {
		return nil, err
	}
	if raw, ok := args["id"]; ok {
		id, err := h.svc.ParseID(m, fmt.Sprint(raw))
		if err != nil {
			return nil, err
		}
		return h.svc.Get(ctx, m, id)
	}
	page, err := h.svc.Find(ctx, m, args)
	if err != nil {
		return nil, err
	}
	_, paged := args["page"]
	_, limited := args["limit"]
	if paged || limited {
		return pageMap(page), nil
	}
	return page.Items, nil
}

var mutations = []struct {
	prefix string
	verb   string
}{
	{"create", endpoint.POST},
	{"update", endpoint.PUT},
	{"delete", endpoint.DELETE},
}

func (h *Handler) mutate(ctx context.Context, r *http.Request, name string, args map[string]any) (any, error) {
	verb, base := "", ""
	for _, mu := range mutations {
		if len(name) > len(mu.prefix) && strings.EqualFold(name[:len(mu.prefix)], mu.prefix) {
			verb, base = mu.verb, name[len(mu.prefix):]
			break
		}
	}
	if verb == "" {
		return nil, apperr.Validation("Unknown mutation: " + name)
	}
	m, err := h.model(base, "mutation")
	if err != nil {
		return nil, err
	}
	if _, err := h.svc.Authorize(ctx, r, m, verb); err != nil {
		return nil, err
	}

	var id any
	if verb != endpoint.POST {
		raw, ok := args["id"]
		if !ok || raw == nil {
			return nil, apperr.Validation(fmt.Sprintf("ID is required for %s", strings.ToLower(name[:6])))
		}
		if id, err = h.svc.ParseID(m, fmt.Sprint(raw)); err != nil {
			return nil, err
		}
	}

	switch verb {
	case endpoint.POST:
		input, err := inputOf(args)
		if err != nil {
			return nil, err
		}
		return h.svc.Create(ctx, m, input)
	case endpoint.PUT:
		input, err := inputOf(args)
		if err != nil {
			return nil, err
		}
		return h.svc.Update(ctx, m, id, input)
	default:
		if err := h.svc.Delete(ctx, m, id); err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "id": id}, nil
	}
}

func inputOf(args map[string]any) (map[string]any, error) {
	in, ok := args["input"].(map[string]any)
	if !ok {
		return nil, apperr.Validation("input is required and must be an object")
	}
	return in, nil
}

func operation(doc *ast.QueryDocument, name string) *ast.OperationDefinition {
	if len(doc.Operations) == 0 {
		return nil
	}
	if name != "" {
		for _, op := range doc.Operations {
			if op.Name == name {
				return op
			}
		}
	}
	return doc.Operations[0]
}

func pageMap(p query.Page) map[string]any {
	return map[string]any{
		"items":     p.Items,
		"total":     p.Total,
		"page":      p.Page,
		"limit":     p.Limit,
		"pages":     p.Pages,
		"next_page": p.NextPage,
		"prev_page": p.PrevPage,
	}
}

func fail(status int, msg string) (int, any) {
	return status, gin.H{"error": msg}
}

func failure(err error) (int, any) {
	e := apperr.From(err)
	body := gin.H{"error": e.Message}
	if len(e.Fields) > 0 {
		body["errors"] = e.Fields
	}
	if e.Detail != "" && e.Kind != apperr.KindNotFound {
		body["detail"] = e.Detail
	}
	return e.StatusCode(), body
}
