// Package storage defines the warehouse repository used to load dimension
// and fact tables into a relational database, plus a registry of backends.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config selects and connects a backend.
//
// Kind must match a registered backend ("sqlite", "postgres", "mssql"). DSN is
// passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the backend-agnostic warehouse interface.
//
// Each backend implements these operations in its own idiom (multi-row
// INSERT for SQLite, COPY for Postgres, bulk copy for SQL Server).
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureTables creates missing tables in order. Existing tables are left
	// as they are.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// DeleteRows empties table.
	DeleteRows(ctx context.Context, table string) error

	// CopyRows appends rows to table. Values are aligned with columns and
	// already converted by Coerce.
	CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// Factory opens a Repository.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It is called from init in
// backend packages and panics on an empty kind, a nil factory, or a
// duplicate registration.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
