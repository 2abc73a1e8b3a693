// Package postgres implements storage.Repository for Postgres on pgx/v5.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stardim/internal/storage"
)

// Repo implements storage.Repository for Postgres. Rows are loaded with
// COPY FROM STDIN.
type Repo struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Repo)(nil)

func init() {
	storage.Register("postgres", New)
}

// New creates a pool for cfg.DSN and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() { r.pool.Close() }

// EnsureTables creates the schema (for qualified names) and table when
// missing.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		schemaSQL, tableSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) DeleteRows(ctx context.Context, table string) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM "+pgFQN(table))
	return err
}

func (r *Repo) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return r.pool.CopyFrom(ctx, splitFQN(table), columns, pgx.CopyFromRows(rows))
}

func pgType(logical string) string {
	switch logical {
	case storage.TypeInt:
		return "BIGINT"
	case storage.TypeFloat:
		return "DOUBLE PRECISION"
	case storage.TypeBool:
		return "BOOLEAN"
	case storage.TypeDate:
		return "DATE"
	default:
		return "TEXT"
	}
}

// pgIdent quotes a single identifier segment.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name: public.sales becomes
// "public"."sales".
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(strings.TrimSpace(p))
	}
	return strings.Join(parts, ".")
}

// splitFQN converts "schema.table" into a pgx.Identifier.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}

// splitQualifiedName splits "schema.table"; anything without exactly one
// dot is treated as unqualified.
func splitQualifiedName(name string) (schema, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("postgres: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", "", fmt.Errorf("postgres: table %s has no columns", t.Name)
	}
	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = "CREATE SCHEMA IF NOT EXISTS " + pgIdent(schema) + ";"
	}

	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return "", "", fmt.Errorf("postgres: table %s: column name is empty", t.Name)
		}
		var b strings.Builder
		b.WriteString(pgIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(pgType(c.Type))
		switch {
		case c.Name == t.PrimaryKey:
			b.WriteString(" PRIMARY KEY")
		case !c.Nullable:
			b.WriteString(" NOT NULL")
		}
		if ref := referenceSQL(c.References); ref != "" {
			b.WriteString(" REFERENCES ")
			b.WriteString(ref)
		}
		defs = append(defs, b.String())
	}
	tableSQL = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", pgFQN(t.Name), strings.Join(defs, ", "))
	return schemaSQL, tableSQL, nil
}

// referenceSQL quotes "table(col)" as "table"("col").
func referenceSQL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	open := strings.IndexByte(ref, '(')
	if open < 0 || !strings.HasSuffix(ref, ")") {
		return pgFQN(ref)
	}
	return pgFQN(ref[:open]) + "(" + pgIdent(ref[open+1:len(ref)-1]) + ")"
}
