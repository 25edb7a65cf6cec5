// Package convert turns untyped JSON input into values of a column's semantic
// type, collecting every field error before giving up.
package convert

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"tablegate/internal/apperr"
	"tablegate/internal/schema"
)

// Value converts v for column c. The error message does not name the field.
func Value(c schema.Column, v any) (any, error) {
	if v == nil {
		if c.Nullable {
			return nil, nil
		}
		return nil, errors.New("cannot be null")
	}
	switch c.Type {
	case schema.Integer:
		return toInt(v)
	case schema.Float:
		return toFloat(v)
	case schema.Boolean:
		return toBool(v)
	case schema.String:
		return toString(v)
	case schema.JSON:
		return toJSON(v)
	default:
		// timestamps and unknown types go to the database as given
		return v, nil
	}
}

// Loose converts v like Value but falls back to v itself on failure. Used for
// query-string filters, which must never fail on a wrong type.
func Loose(c schema.Column, v any) any {
	if out, err := Value(c, v); err == nil && out != nil {
		return out
	}
	return v
}

// ID converts a path segment to the primary key's type.
func ID(c schema.Column, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty id")
	}
	switch c.Type {
	case schema.Integer:
		return strconv.ParseInt(raw, 10, 64)
	case schema.Float:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}

// Create validates a body for insertion. Generated timestamps are dropped; a
// client-supplied primary key is kept only when the database cannot generate
// one itself. Absent required columns are reported as missing.
func Create(t *schema.Table, body map[string]any) (map[string]any, []apperr.FieldError) {
	out := make(map[string]any, len(body))
	var errs []apperr.FieldError

	for _, c := range t.Columns {
		v, present := body[c.Name]
		if c.Name == schema.CreatedAt || c.Name == schema.UpdatedAt {
			continue
		}
		if c.PrimaryKey && c.HasDefault {
			continue
		}
		if !present {
			if t.Required(c) {
				errs = append(errs, ferr(c.Name, "field is required"))
			}
			continue
		}
		norm, err := Value(c, v)
		if err != nil {
			errs = append(errs, ferr(c.Name, err.Error()))
			continue
		}
		out[c.Name] = norm
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// Update validates only the fields present in body. The primary key and
// generated timestamps are ignored.
func Update(t *schema.Table, body map[string]any) (map[string]any, []apperr.FieldError) {
	out := make(map[string]any, len(body))
	var errs []apperr.FieldError

	for _, c := range t.Columns {
		v, present := body[c.Name]
		if !present || t.IsGenerated(c.Name) {
			continue
		}
		norm, err := Value(c, v)
		if err != nil {
			errs = append(errs, ferr(c.Name, err.Error()))
			continue
		}
		out[c.Name] = norm
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

func ferr(field, msg string) apperr.FieldError {
	return apperr.FieldError{Field: field, Message: msg}
}

func toInt(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		// JSON numbers decode as float64
		if t == math.Trunc(t) && !math.IsInf(t, 0) && math.Abs(t) < 1<<63 {
			return int64(t), nil
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int64(f), nil
		}
	}
	return 0, errors.Errorf("must be an integer, got %s", Describe(v))
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f, nil
		}
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, nil
		}
	}
	return 0, errors.Errorf("must be a number, got %s", Describe(v))
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
	}
	return false, errors.Errorf("must be a boolean, got %s", Describe(v))
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	case json.Number:
		return t.String(), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	return "", errors.Errorf("must be a string, got %s", Describe(v))
}

func toJSON(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	}
	return nil, errors.Errorf("must be a JSON object or array, got %s", Describe(v))
}

// Describe names the JSON type of v for error messages.
func Describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
