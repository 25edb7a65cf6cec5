package store

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"tablegate/internal/apperr"
	"tablegate/internal/query"
	"tablegate/internal/schema"
)

// Memory is a process-local store for development and tests. Rows live in
// insertion order per table; integer keys come from a per-table sequence and
// string keys are ULIDs.
type Memory struct {
	mu      sync.RWMutex
	tables  map[string]*memTable
	entropy io.Reader
}

type memTable struct {
	seq  int64
	keys []string
	rows map[string]map[string]any
}

func NewMemory() *Memory {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Memory{
		tables:  make(map[string]*memTable),
		entropy: ulid.Monotonic(src, 0),
	}
}

func (m *Memory) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String()
}

// table must be called with the write lock held when create is true.
func (m *Memory) table(name string, create bool) *memTable {
	mt := m.tables[name]
	if mt == nil && create {
		mt = &memTable{rows: make(map[string]map[string]any)}
		m.tables[name] = mt
	}
	return mt
}

func key(id any) string { return fmt.Sprint(id) }

func clone(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func (m *Memory) Get(_ context.Context, t *schema.Table, id any) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mt := m.table(t.Name, false); mt != nil {
		if row, ok := mt.rows[key(id)]; ok {
			return clone(row), nil
		}
	}
	return nil, notFound(t, id)
}

func (m *Memory) snapshot(t *schema.Table) []map[string]any {
	mt := m.table(t.Name, false)
	if mt == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(mt.keys))
	for _, k := range mt.keys {
		out = append(out, clone(mt.rows[k]))
	}
	return out
}

func (m *Memory) List(_ context.Context, d query.Descriptor) ([]map[string]any, int64, error) {
	m.mu.RLock()
	all := m.snapshot(d.Table)
	m.mu.RUnlock()

	rows := make([]map[string]any, 0, len(all))
	for _, r := range all {
		ok, err := matchAll(r, d.Predicates)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			rows = append(rows, r)
		}
	}
	sortRows(rows, orders(d.Table, d.Orders))

	total := int64(len(rows))
	if d.Paginate {
		lo := d.Offset()
		if lo > len(rows) {
			lo = len(rows)
		}
		hi := len(rows)
		if d.Limit < hi-lo {
			hi = lo + d.Limit
		}
		rows = rows[lo:hi]
	}
	return rows, total, nil
}

func (m *Memory) Related(_ context.Context, t *schema.Table, column string, value any) ([]map[string]any, error) {
	m.mu.RLock()
	all := m.snapshot(t)
	m.mu.RUnlock()

	var out []map[string]any
	for _, r := range all {
		if v, ok := r[column]; ok && v != nil && compare(v, value) == 0 {
			out = append(out, r)
		}
	}
	sortRows(out, orders(t, nil))
	return out, nil
}

func (m *Memory) Insert(_ context.Context, t *schema.Table, values map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt := m.table(t.Name, true)

	row := make(map[string]any, len(t.Columns))
	for _, c := range t.Columns {
		row[c.Name] = values[c.Name]
	}

	for _, c := range t.Columns {
		if row[c.Name] == nil && !c.Nullable && !c.HasDefault && !c.PrimaryKey {
			return nil, apperr.Database(errors.Errorf("%s.%s: not null constraint failed", t.Name, c.Name), true)
		}
	}

	pk := t.PK()
	id := row[pk.Name]
	if id == nil {
		switch pk.Type {
		case schema.Integer:
			mt.seq++
			id = mt.seq
		case schema.String:
			id = m.newID()
		default:
			return nil, apperr.Database(errors.Errorf("%s.%s: no value for primary key", t.Name, pk.Name), true)
		}
		row[pk.Name] = id
	} else if n, ok := id.(int64); ok && n > mt.seq {
		mt.seq = n
	}

	k := key(id)
	if _, dup := mt.rows[k]; dup {
		return nil, apperr.Database(errors.Errorf("%s: duplicate key %s=%v", t.Name, pk.Name, id), true)
	}
	mt.rows[k] = row
	mt.keys = append(mt.keys, k)
	return clone(row), nil
}

func (m *Memory) Update(_ context.Context, t *schema.Table, id any, values map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt := m.table(t.Name, false)
	if mt == nil {
		return nil, notFound(t, id)
	}
	row, ok := mt.rows[key(id)]
	if !ok {
		return nil, notFound(t, id)
	}
	for _, c := range t.Columns {
		if v, ok := values[c.Name]; ok && !c.PrimaryKey {
			row[c.Name] = v
		}
	}
	return clone(row), nil
}

func (m *Memory) Delete(_ context.Context, t *schema.Table, id any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt := m.table(t.Name, false)
	k := key(id)
	if mt == nil {
		return notFound(t, id)
	}
	if _, ok := mt.rows[k]; !ok {
		return notFound(t, id)
	}
	delete(mt.rows, k)
	for i, kk := range mt.keys {
		if kk == k {
			mt.keys = append(mt.keys[:i], mt.keys[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

// ==== predicates ====

func matchAll(row map[string]any, preds []query.Predicate) (bool, error) {
	for _, p := range preds {
		ok, err := match(row[p.Field], p)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// match follows SQL: a null operand never satisfies a comparison.
func match(v any, p query.Predicate) (bool, error) {
	if v == nil || p.Value == nil {
		return false, nil
	}
	switch p.Op {
	case query.Eq:
		return compare(v, p.Value) == 0, nil
	case query.Ne:
		return compare(v, p.Value) != 0, nil
	case query.Gt:
		return compare(v, p.Value) > 0, nil
	case query.Gte:
		return compare(v, p.Value) >= 0, nil
	case query.Lt:
		return compare(v, p.Value) < 0, nil
	case query.Lte:
		return compare(v, p.Value) <= 0, nil
	case query.Like:
		re, err := likePattern(fmt.Sprint(p.Value))
		if err != nil {
			return false, apperr.Database(err, true)
		}
		return re.MatchString(fmt.Sprint(v)), nil
	case query.In:
		vals, _ := p.Value.([]any)
		for _, want := range vals {
			if compare(v, want) == 0 {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

func likePattern(p string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range p {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// ==== ordering ====

func sortRows(rows []map[string]any, keys []query.Order) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			if c := cmpNullsLast(rows[i][k.Field], rows[j][k.Field], k.Desc); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func cmpNullsLast(a, b any, desc bool) int {
	na, nb := a == nil, b == nil
	switch {
	case na && nb:
		return 0
	case na:
		return 1
	case nb:
		return -1
	}
	c := compare(a, b)
	if desc {
		c = -c
	}
	return c
}

// compare orders two non-null values. Numbers compare numerically across
// integer and float types; everything else compares by type then text.
func compare(a, b any) int {
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(text(a), text(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}
