// Package mssql implements storage.Repository for Microsoft SQL Server
// using the go-mssqldb driver and its bulk copy API.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"stardim/internal/storage"
)

// Repo implements storage.Repository for SQL Server.
type Repo struct {
	db *sql.DB
}

var _ storage.Repository = (*Repo)(nil)

func init() {
	storage.Register("mssql", New)
}

// New validates cfg.DSN, opens a "sqlserver" handle and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates each table behind an OBJECT_ID guard.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
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
	_, err := r.db.ExecContext(ctx, "DELETE FROM "+mssqlTableIdent(table))
	return err
}

// CopyRows bulk-inserts rows into table inside one transaction.
func (r *Repo) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, columns...))
	if err != nil {
		rollback()
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func mssqlType(logical string) string {
	switch logical {
	case storage.TypeInt:
		return "BIGINT"
	case storage.TypeFloat:
		return "FLOAT"
	case storage.TypeBool:
		return "BIT"
	case storage.TypeDate:
		return "DATE"
	default:
		return "NVARCHAR(MAX)"
	}
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("mssql: table %s has no columns", t.Name)
	}

	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c, c.Name == t.PrimaryKey)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}
	return wrapCreateIfMissing(t.Name, strings.Join(defs, ", ")), nil
}

// wrapCreateIfMissing wraps CREATE TABLE in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

func mssqlColumnDef(c storage.ColumnSpec, primaryKey bool) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("mssql: column name is empty")
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(mssqlType(c.Type))
	switch {
	case primaryKey:
		b.WriteString(" NOT NULL PRIMARY KEY")
	case c.Nullable:
		b.WriteString(" NULL")
	default:
		b.WriteString(" NOT NULL")
	}
	if ref := strings.TrimSpace(c.References); ref != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(referenceSQL(ref))
	}
	return b.String(), nil
}

// referenceSQL quotes "table(col)" as [table]([col]).
func referenceSQL(ref string) string {
	open := strings.IndexByte(ref, '(')
	if open < 0 || !strings.HasSuffix(ref, ")") {
		return mssqlTableIdent(ref)
	}
	return mssqlTableIdent(ref[:open]) + "(" + mssqlIdent(ref[open+1:len(ref)-1]) + ")"
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes each part of a schema-qualified name:
// dbo.sales becomes [dbo].[sales].
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
