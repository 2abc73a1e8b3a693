// Package extract loads source extracts into tables.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stardim/internal/datasource"
	"stardim/internal/logger"
	csvparser "stardim/internal/parser/csv"
	"stardim/internal/table"
)

// TableLoader loads a source reference into a table. A nil columns slice
// loads every column; otherwise only the listed columns are read, in order,
// and each must exist.
type TableLoader interface {
	Load(ctx context.Context, ref string, columns []string) (*table.Table, error)
}

// Loader reads CSV sources through a datasource.Store.
type Loader struct {
	Store   datasource.Store
	Options csvparser.Options
	Logger  *slog.Logger
}

var _ TableLoader = (*Loader)(nil)

// Load implements TableLoader.
func (l *Loader) Load(ctx context.Context, ref string, columns []string) (*table.Table, error) {
	start := time.Now()
	rc, err := l.Store.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	opt := l.Options
	if columns != nil {
		opt = opt.WithColumns(columns)
	}
	t, err := csvparser.ReadTable(ctx, rc, ref, opt)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}
	logger.OrDiscard(l.Logger).Debug("source loaded",
		"source", ref,
		"rows", t.Len(),
		"columns", len(t.Columns),
		"duration", time.Since(start),
	)
	return t, nil
}

// Memory is a TableLoader over tables held in memory, keyed by reference.
// Loaded tables are copies.
type Memory map[string]*table.Table

var _ TableLoader = Memory(nil)

// Load implements TableLoader.
func (m Memory) Load(_ context.Context, ref string, columns []string) (*table.Table, error) {
	t, ok := m[ref]
	if !ok {
		return nil, datasource.NotFound(ref, nil)
	}
	if columns == nil {
		return t.Clone(), nil
	}
	return t.Project(columns...)
}
