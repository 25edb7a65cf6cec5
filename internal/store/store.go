// Package store executes single-table operations described by schema and
// query descriptors.
package store

import (
	"context"
	"fmt"

	"tablegate/internal/apperr"
	"tablegate/internal/query"
	"tablegate/internal/schema"
)

// Store is the persistence boundary. Rows are plain column -> value maps as
// the backend returns them; normalization is the serializer's job.
//
// Get, Update and Delete return an apperr NotFound error when no row has the
// given primary key.
type Store interface {
	Get(ctx context.Context, t *schema.Table, id any) (map[string]any, error)
	List(ctx context.Context, d query.Descriptor) ([]map[string]any, int64, error)
	Insert(ctx context.Context, t *schema.Table, values map[string]any) (map[string]any, error)
	Update(ctx context.Context, t *schema.Table, id any, values map[string]any) (map[string]any, error)
	Delete(ctx context.Context, t *schema.Table, id any) error
	// Related returns rows of t whose column equals value, ordered by key.
	Related(ctx context.Context, t *schema.Table, column string, value any) ([]map[string]any, error)
	Ping(ctx context.Context) error
	Close() error
}

func notFound(t *schema.Table, id any) error {
	e := apperr.NotFound(fmt.Sprintf("%s not found", t.Name))
	e.Detail = fmt.Sprintf("no row with %s=%v", t.PK().Name, id)
	return e
}
