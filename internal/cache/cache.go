// Package cache stores serialized GET responses keyed by table and request.
package cache

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

const DefaultTTL = 300 * time.Second

// Provider is a byte cache with prefix invalidation.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}

// DetailKey is the key of one row: "{table}:{id}".
func DetailKey(table string, id any) string {
	return fmt.Sprintf("%s:%v", table, id)
}

// ListPrefix covers every cached list response of a table.
func ListPrefix(table string) string { return table + ":list" }

// ListKey is "{table}:list" or "{table}:list:{k=v&...}" with keys sorted so
// equivalent query strings share an entry.
func ListKey(table string, q url.Values) string {
	if len(q) == 0 {
		return ListPrefix(table)
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vs := append([]string(nil), q[k]...)
		sort.Strings(vs)
		parts = append(parts, k+"="+strings.Join(vs, ","))
	}
	return ListPrefix(table) + ":" + strings.Join(parts, "&")
}

// Invalidate drops the row entry and every list entry of the table.
func Invalidate(ctx context.Context, p Provider, table string, id any) error {
	if p == nil {
		return nil
	}
	var errs []string
	if err := p.Delete(ctx, DetailKey(table, id)); err != nil {
		errs = append(errs, err.Error())
	}
	if err := p.DeletePrefix(ctx, ListPrefix(table)); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return errors.Errorf("invalidate %s:%v: %s", table, id, strings.Join(errs, "; "))
	}
	return nil
}
