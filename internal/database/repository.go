package database

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// RepositoryInterface is the raw table access used by service repositories.
type RepositoryInterface interface {
	Request(ctx context.Context, method, table string, body interface{}, query string) ([]byte, error)
	Upsert(ctx context.Context, table string, body interface{}, onConflict string) ([]byte, error)
	Count(ctx context.Context, table, query string) (int, error)
	Ping(ctx context.Context) error
}

var _ RepositoryInterface = (*Repository)(nil)

// Repository exposes table-level operations over a Client.
type Repository struct {
	client *Client
}

// NewRepository creates a new repository.
func NewRepository(client *Client) *Repository {
	return &Repository{client: client}
}

// Request issues a PostgREST call and returns the representation body.
func (r *Repository) Request(ctx context.Context, method, table string, body interface{}, query string) ([]byte, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("%w: repository not initialized", ErrInvalidInput)
	}
	return r.client.request(ctx, method, table, body, query)
}

// Upsert inserts body or merges it into the row that collides on onConflict.
func (r *Repository) Upsert(ctx context.Context, table string, body interface{}, onConflict string) ([]byte, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("%w: repository not initialized", ErrInvalidInput)
	}
	if onConflict == "" {
		return nil, fmt.Errorf("%w: upsert on %s needs a conflict target", ErrInvalidInput, table)
	}
	data, _, err := r.client.do(ctx, http.MethodPost, table, body, "on_conflict="+onConflict, preferUpsert)
	if err != nil {
		return nil, fmt.Errorf("%w: upsert %s: %v", ErrDatabaseError, table, err)
	}
	return data, nil
}

// Count returns the exact number of rows matching query, read from Content-Range.
func (r *Repository) Count(ctx context.Context, table, query string) (int, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("%w: repository not initialized", ErrInvalidInput)
	}
	q := "select=id&limit=1"
	if query != "" {
		q = query + "&" + q
	}
	_, header, err := r.client.do(ctx, http.MethodGet, table, nil, q, preferCountExact)
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", ErrDatabaseError, table, err)
	}
	return parseContentRangeTotal(header.Get("Content-Range"))
}

// Ping checks that the REST endpoint answers with the configured key.
func (r *Repository) Ping(ctx context.Context) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("%w: repository not initialized", ErrInvalidInput)
	}
	if _, _, err := r.client.do(ctx, http.MethodGet, "", nil, "", ""); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrDatabaseError, err)
	}
	return nil
}

// parseContentRangeTotal reads the total from "0-9/42" or "*/0".
func parseContentRangeTotal(v string) (int, error) {
	idx := strings.LastIndex(v, "/")
	if idx < 0 || idx == len(v)-1 {
		return 0, fmt.Errorf("%w: missing count in Content-Range %q", ErrDatabaseError, v)
	}
	total, err := strconv.Atoi(v[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("%w: invalid count in Content-Range %q", ErrDatabaseError, v)
	}
	return total, nil
}
