package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("repository: not found")

// DBTX is the subset of pgxpool.Pool used by the repositories.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EnsureSchema creates the tables used by the server when they are missing.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// buildUpdate renders "col = $n" assignments for the allowed columns in a stable order.
// Argument numbering starts after the offset placeholders already used by the caller.
func buildUpdate(values map[string]any, allowed map[string]bool, offset int) (string, []any, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		if !allowed[k] {
			return "", nil, fmt.Errorf("column %q is not updatable", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		parts = append(parts, fmt.Sprintf("%s = $%d", k, offset+i+1))
		args = append(args, values[k])
	}
	parts = append(parts, "updated_at = NOW()")
	return strings.Join(parts, ", "), args, nil
}
