package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/emirbensusan/lotastro-sync/internal/store"
	"github.com/emirbensusan/lotastro-sync/internal/sync"
)

// TableRepository maps one table onto a REST collection:
//
//	POST   {path}        create
//	PATCH  {path}/{id}   update
//	DELETE {path}/{id}   delete
//	GET    {path}/{id}   fetch one
//	GET    {path}        list
//
// 409 and 412 responses wrap sync.ErrStale; 404 wraps sync.ErrRecordNotFound.
type TableRepository struct {
	client *Client
	table  string
	path   string
}

// NewTableRepository returns a repository for table rooted at path. An empty
// path defaults to "/<table>".
func NewTableRepository(client *Client, table, path string) *TableRepository {
	if path == "" {
		path = "/" + table
	}

	return &TableRepository{
		client: client,
		table:  table,
		path:   strings.TrimRight(path, "/"),
	}
}

// Table returns the local table name.
func (r *TableRepository) Table() string { return r.table }

func (r *TableRepository) itemPath(id string) string {
	return r.path + "/" + url.PathEscape(id)
}

// Create implements sync.Repository.
func (r *TableRepository) Create(ctx context.Context, id string, data store.Record) (store.Record, error) {
	body := data.Clone()
	if body == nil {
		body = store.Record{}
	}

	if _, ok := body["id"]; !ok && id != "" {
		body["id"] = id
	}

	var out store.Record
	if err := r.client.Do(ctx, http.MethodPost, r.path, body, &out); err != nil {
		return nil, r.wrap("create", id, err)
	}

	return out, nil
}

// Update implements sync.Repository.
func (r *TableRepository) Update(ctx context.Context, id string, data store.Record) (store.Record, error) {
	var out store.Record
	if err := r.client.Do(ctx, http.MethodPatch, r.itemPath(id), data, &out); err != nil {
		return nil, r.wrap("update", id, err)
	}

	return out, nil
}

// Delete implements sync.Repository.
func (r *TableRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Do(ctx, http.MethodDelete, r.itemPath(id), nil, nil); err != nil {
		return r.wrap("delete", id, err)
	}

	return nil
}

// FetchByID implements sync.Repository.
func (r *TableRepository) FetchByID(ctx context.Context, id string) (store.Record, error) {
	var out store.Record
	if err := r.client.Do(ctx, http.MethodGet, r.itemPath(id), nil, &out); err != nil {
		return nil, r.wrap("fetch", id, err)
	}

	return out, nil
}

// List fetches every record of the table. Accepts a bare JSON array or an
// object with a "data" array. Usable as a cache.FetchFunc.
func (r *TableRepository) List(ctx context.Context) ([]store.Record, error) {
	var raw any
	if err := r.client.Do(ctx, http.MethodGet, r.path, nil, &raw); err != nil {
		return nil, r.wrap("list", "", err)
	}

	items, err := listItems(raw)
	if err != nil {
		return nil, fmt.Errorf("remote: list %s: %w", r.table, err)
	}

	return items, nil
}

func listItems(raw any) ([]store.Record, error) {
	if obj, ok := raw.(map[string]any); ok {
		raw = obj["data"]
	}

	if raw == nil {
		return []store.Record{}, nil
	}

	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected response shape %T", raw)
	}

	out := make([]store.Record, 0, len(arr))

	for i, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("item %d is %T, not an object", i, item)
		}

		out = append(out, store.Record(m))
	}

	return out, nil
}

// wrap attaches the sync sentinels the executor dispatches on.
func (r *TableRepository) wrap(op, id string, err error) error {
	target := r.table
	if id != "" {
		target += "/" + id
	}

	switch {
	case errors.Is(err, ErrConflict), errors.Is(err, ErrPreconditionFailed):
		return fmt.Errorf("remote: %s %s: %w: %w", op, target, sync.ErrStale, err)
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("remote: %s %s: %w: %w", op, target, sync.ErrRecordNotFound, err)
	default:
		return fmt.Errorf("remote: %s %s: %w", op, target, err)
	}
}

// Repositories builds a TableRepository per table. paths maps table to a
// collection path; tables missing from paths use the default.
func Repositories(client *Client, tables []string, paths map[string]string) map[string]*TableRepository {
	out := make(map[string]*TableRepository, len(tables))
	for _, t := range tables {
		out[t] = NewTableRepository(client, t, paths[t])
	}

	return out
}

// Ping issues GET path and reports whether the backend answered 2xx.
func (c *Client) Ping(ctx context.Context, path string) error {
	if path == "" {
		path = "/"
	}

	return c.Do(ctx, http.MethodGet, path, nil, nil)
}
