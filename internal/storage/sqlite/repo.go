// Package sqlite implements storage.Repository for SQLite using the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"stardim/internal/storage"
)

// maxVariables bounds the bound parameters of one INSERT.
const maxVariables = 32766

// Repo implements storage.Repository for SQLite.
//
// SQLite has no DATE type: dates are stored as TEXT in 2006-01-02 form and
// booleans as INTEGER 0/1.
type Repo struct {
	db *sql.DB
}

var _ storage.Repository = (*Repo)(nil)

func init() {
	storage.Register("sqlite", New)
}

// New opens the database named by cfg.DSN and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables creates each table with CREATE TABLE IF NOT EXISTS.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) DeleteRows(ctx context.Context, table string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM "+sqlIdent(table))
	return err
}

// CopyRows inserts rows with multi-row INSERT statements inside one
// transaction.
func (r *Repo) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: %s: no columns", table)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	per := max(1, maxVariables/len(columns))
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args := buildInsertSQL(table, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqlType(logical string) string {
	switch logical {
	case storage.TypeInt, storage.TypeBool:
		return "INTEGER"
	case storage.TypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("sqlite: table %s has no columns", t.Name)
	}

	parts := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		col := sqlIdent(c.Name) + " " + sqlType(c.Type)
		if c.Name == t.PrimaryKey {
			col += " PRIMARY KEY"
		} else if !c.Nullable {
			col += " NOT NULL"
		}
		// Enforced only with PRAGMA foreign_keys=ON.
		if c.References != "" {
			col += " REFERENCES " + c.References
		}
		parts = append(parts, col)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, len(columns))
	for i, c := range columns {
		colList[i] = sqlIdent(c)
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row {
			args = append(args, sqliteValue(v))
		}
	}
	return b.String(), args
}

func sqliteValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		if h, m, s := x.Clock(); h == 0 && m == 0 && s == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.UTC().Format(time.RFC3339Nano)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	default:
		return v
	}
}
