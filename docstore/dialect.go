package docstore

import (
	"fmt"
	"strings"
)

type Dialect interface {
	Placeholder(n int) string
	Now() string
	TimestampType() string
	TextType() string
}

type sqliteDialect struct{}

func (d sqliteDialect) Placeholder(_ int) string { return "?" }
func (d sqliteDialect) Now() string              { return "datetime('now','localtime')" }
func (d sqliteDialect) TimestampType() string    { return "TEXT" }
func (d sqliteDialect) TextType() string         { return "TEXT" }

type postgresDialect struct{}

func (d postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (d postgresDialect) Now() string              { return "NOW()" }
func (d postgresDialect) TimestampType() string    { return "TIMESTAMPTZ" }

// TEXT, not JSONB: verification compares bytes and JSONB reorders keys.
func (d postgresDialect) TextType() string { return "TEXT" }

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	n := 0
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(fmt.Sprintf("$%d", n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func schemaFor(d Dialect) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	body %s NOT NULL,
	updated_at %s NOT NULL DEFAULT (%s),
	PRIMARY KEY (collection, id)
)`, d.TextType(), d.TimestampType(), d.Now())
}
