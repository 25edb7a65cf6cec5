// Package serialize turns stored rows into response maps with a stable shape.
package serialize

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"tablegate/internal/schema"
)

// TimeFormat is the canonical textual form of timestamps.
const TimeFormat = time.RFC3339Nano

// Loader fetches related rows for relationship resolution.
type Loader interface {
	Lookup(table string) (*schema.Table, bool)
	Related(ctx context.Context, t *schema.Table, column string, value any) ([]map[string]any, error)
}

type Serializer struct {
	loader Loader
}

// New returns a serializer. A nil loader resolves only foreign keys held by
// the row itself.
func New(l Loader) *Serializer {
	return &Serializer{loader: l}
}

// Row normalizes the scalar columns of row. Every column of t is present in
// the output.
func Row(t *schema.Table, row map[string]any) map[string]any {
	out := make(map[string]any, len(t.Columns)+len(t.Relationships))
	for _, c := range t.Columns {
		out[c.Name] = Scalar(c.Type, row[c.Name])
	}
	return out
}

// One serializes row including its relationships.
func (s *Serializer) One(ctx context.Context, t *schema.Table, row map[string]any, deep bool) (map[string]any, error) {
	out := Row(t, row)
	for _, r := range t.Relationships {
		v, err := s.relation(ctx, r, row, deep)
		if err != nil {
			return nil, errors.WithMessagef(err, "relationship %s.%s", t.Name, r.Name)
		}
		out[r.Name] = v
	}
	return out, nil
}

func (s *Serializer) Many(ctx context.Context, t *schema.Table, rows []map[string]any, deep bool) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		m, err := s.One(ctx, t, row, deep)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Serializer) relation(ctx context.Context, r schema.Relationship, row map[string]any, deep bool) (any, error) {
	local := row[r.Column]
	if s.loader == nil {
		if r.Cardinality == schema.Many {
			return []any{}, nil
		}
		return local, nil
	}
	target, ok := s.loader.Lookup(r.Target)
	if !ok {
		return nil, errors.Errorf("unknown target table %q", r.Target)
	}

	if r.Cardinality == schema.One && !deep {
		if c, ok := target.Column(r.TargetColumn); ok {
			return Scalar(c.Type, local), nil
		}
		return local, nil
	}

	if local == nil {
		if r.Cardinality == schema.Many {
			return []any{}, nil
		}
		return nil, nil
	}
	related, err := s.loader.Related(ctx, target, r.TargetColumn, local)
	if err != nil {
		return nil, err
	}

	if r.Cardinality == schema.One {
		if len(related) == 0 {
			return nil, nil
		}
		return Row(target, related[0]), nil
	}

	list := make([]any, 0, len(related))
	pk := target.PK()
	for _, rr := range related {
		if deep {
			list = append(list, Row(target, rr))
		} else {
			list = append(list, Scalar(pk.Type, rr[pk.Name]))
		}
	}
	return list, nil
}

// Scalar converts a driver value to the Go type of a semantic column type.
// Values that do not fit are returned unchanged.
func Scalar(t schema.Type, v any) any {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if p, ok := v.(*time.Time); ok {
		if p == nil {
			return nil
		}
		v = *p
	}

	switch t {
	case schema.Integer:
		switch n := v.(type) {
		case int64:
			return n
		case int:
			return int64(n)
		case int32:
			return int64(n)
		case int16:
			return int64(n)
		case int8:
			return int64(n)
		case uint64:
			return int64(n)
		case uint32:
			return int64(n)
		case float64:
			return int64(n)
		case bool:
			if n {
				return int64(1)
			}
			return int64(0)
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return i
			}
		}
	case schema.Float:
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int64:
			return float64(n)
		case int:
			return float64(n)
		case int32:
			return float64(n)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f
			}
		}
	case schema.Boolean:
		switch b := v.(type) {
		case bool:
			return b
		case int64:
			return b != 0
		case int:
			return b != 0
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "t", "true", "1", "yes", "on":
				return true
			case "f", "false", "0", "no", "off":
				return false
			}
		}
	case schema.String:
		switch s := v.(type) {
		case string:
			return s
		case time.Time:
			return s.UTC().Format(TimeFormat)
		default:
			return fmt.Sprint(s)
		}
	case schema.JSON:
		if s, ok := v.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
	case schema.Timestamp:
		return Timestamp(v)
	}
	return v
}

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Timestamp renders time values and parseable strings canonically.
func Timestamp(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(TimeFormat)
	case string:
		for _, l := range layouts {
			if ts, err := time.Parse(l, strings.TrimSpace(t)); err == nil {
				return ts.UTC().Format(TimeFormat)
			}
		}
		return t
	}
	return v
}
