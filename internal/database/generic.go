package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// GenericCreate inserts row into table and hands the returned representation to onRows.
func GenericCreate[T any](r RepositoryInterface, ctx context.Context, table string, row *T, onRows func([]T)) error {
	if row == nil {
		return fmt.Errorf("%w: %s row cannot be nil", ErrInvalidInput, table)
	}
	data, err := r.Request(ctx, http.MethodPost, table, row, "")
	if err != nil {
		if IsConflict(err) {
			return fmt.Errorf("%w: create %s: %v", ErrConflict, table, err)
		}
		return fmt.Errorf("%w: create %s: %v", ErrDatabaseError, table, err)
	}
	if onRows == nil {
		return nil
	}
	var rows []T
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("%w: unmarshal %s: %v", ErrDatabaseError, table, err)
	}
	onRows(rows)
	return nil
}

// GenericUpdate patches the rows whose field equals value.
func GenericUpdate[T any](r RepositoryInterface, ctx context.Context, table, field, value string, patch *T) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrInvalidInput, field)
	}
	query := NewQuery().Eq(field, value).Build()
	if _, err := r.Request(ctx, http.MethodPatch, table, patch, query); err != nil {
		return fmt.Errorf("%w: update %s: %v", ErrDatabaseError, table, err)
	}
	return nil
}

// GenericGetByField returns the first row whose field equals value.
func GenericGetByField[T any](r RepositoryInterface, ctx context.Context, table, field, value string) (*T, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("%w: %s cannot be empty", ErrInvalidInput, field)
	}
	rows, err := GenericListWithQuery[T](r, ctx, table, NewQuery().Eq(field, value).Limit(1).Build())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NewNotFoundError(table, value)
	}
	return &rows[0], nil
}

// GenericListByField returns every row whose field equals value.
func GenericListByField[T any](r RepositoryInterface, ctx context.Context, table, field, value string) ([]T, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("%w: %s cannot be empty", ErrInvalidInput, field)
	}
	return GenericListWithQuery[T](r, ctx, table, NewQuery().Eq(field, value).Build())
}

// GenericListWithQuery returns the rows selected by a prebuilt query string.
func GenericListWithQuery[T any](r RepositoryInterface, ctx context.Context, table, query string) ([]T, error) {
	data, err := r.Request(ctx, http.MethodGet, table, nil, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrDatabaseError, table, err)
	}
	var rows []T
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: unmarshal %s: %v", ErrDatabaseError, table, err)
	}
	return rows, nil
}

// GenericDelete removes the rows selected by query and returns them.
func GenericDelete[T any](r RepositoryInterface, ctx context.Context, table, query string) ([]T, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: refusing unfiltered delete on %s", ErrInvalidInput, table)
	}
	data, err := r.Request(ctx, http.MethodDelete, table, nil, query)
	if err != nil {
		return nil, fmt.Errorf("%w: delete %s: %v", ErrDatabaseError, table, err)
	}
	var rows []T
	if len(data) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: unmarshal %s: %v", ErrDatabaseError, table, err)
	}
	return rows, nil
}
