package graphql

import (
	"strings"

	"tablegate/internal/schema"
)

var scalarNames = map[schema.Type]string{
	schema.Integer:   "Int",
	schema.Float:     "Float",
	schema.Boolean:   "Boolean",
	schema.String:    "String",
	schema.JSON:      "JSON",
	schema.Timestamp: "DateTime",
}

// introspect answers __schema and __type with a fixed description of the
// GraphQL-enabled tables. It is not a full introspection implementation.
func (h *Handler) introspect(field string, args map[string]any) any {
	var types []map[string]any
	for _, m := range h.svc.Registry().Models() {
		if !m.Config.Features().GraphQL {
			continue
		}
		fields := make([]map[string]any, 0, len(m.Table.Columns))
		for _, c := range m.Table.Columns {
			fields = append(fields, map[string]any{
				"name": c.Name,
				"type": map[string]any{"name": scalarNames[c.Type]},
			})
		}
		types = append(types, map[string]any{
			"kind":   "OBJECT",
			"name":   typeName(m.Name()),
			"fields": fields,
		})
	}

	if field == "__type" {
		name, _ := args["name"].(string)
		for _, t := range types {
			if t["name"] == name {
				return t
			}
		}
		return nil
	}
	if types == nil {
		types = []map[string]any{}
	}
	return map[string]any{
		"queryType":    map[string]any{"name": "Query"},
		"mutationType": map[string]any{"name": "Mutation"},
		"types":        types,
	}
}

// typeName turns a table name into a singular type name: order_items ->
// OrderItem.
func typeName(table string) string {
	parts := strings.FieldsFunc(table, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	if len(parts) == 0 {
		return table
	}
	last := len(parts) - 1
	if w := parts[last]; len(w) > 1 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us") {
		parts[last] = strings.TrimSuffix(w, "s")
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
