package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Placeholder styles for the two store dialects.
const (
	Dollar   = "$" // Postgres: $1, $2, ...
	Question = "?" // SQLite: ?, ?, ...
)

// QuoteAndJoin quotes each column name and joins with commas.
func QuoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// Placeholders returns n bind placeholders starting at index start
// (1-based, only meaningful for Dollar).
func Placeholders(style string, start, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = placeholder(style, start+i)
	}
	return strings.Join(ph, ", ")
}

// SetClause builds `"a" = $1, "b" = $2` for an UPDATE statement.
func SetClause(style string, start int, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s = %s", pgx.Identifier{c}.Sanitize(), placeholder(style, start+i))
	}
	return strings.Join(parts, ", ")
}

func placeholder(style string, idx int) string {
	if style == Dollar {
		return fmt.Sprintf("$%d", idx)
	}
	return "?"
}
