package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/umar/users-api/internal/config"
)

// Row is one result row keyed by column name.
type Row map[string]any

type Result struct {
	Rows []Row
}

// Gateway executes a parameterized statement and returns its rows.
// Statements use ? placeholders regardless of driver.
type Gateway interface {
	Execute(ctx context.Context, query string, args ...any) (Result, error)
}

type SQLGateway struct {
	db     *sql.DB
	dollar bool
}

func NewGateway(db *sql.DB, driver string) *SQLGateway {
	return &SQLGateway{
		db:     db,
		dollar: driver == config.DriverPostgres || driver == config.DriverPgx,
	}
}

func (g *SQLGateway) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	if g.dollar {
		query = Rebind(query)
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Result{}, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("failed to read columns: %w", err)
	}

	result := Result{Rows: []Row{}}
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return Result{}, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return result, nil
}

func (g *SQLGateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

// Rebind rewrites ? placeholders to $1, $2, ... for Postgres.
func Rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
