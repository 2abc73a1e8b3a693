package storage

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"stardim/internal/logger"
	"stardim/internal/metrics"
	"stardim/internal/table"
)

// Load modes.
const (
	LoadReplace = "replace"
	LoadAppend  = "append"
)

// DefaultBatchSize is used when Loader.BatchSize is not positive.
const DefaultBatchSize = 500

// Load pairs a table with its warehouse spec.
type Load struct {
	Spec  TableSpec
	Table *table.Table
}

// Loader writes tables to a Repository.
type Loader struct {
	Repo      Repository
	Mode      string
	BatchSize int
	Logger    *slog.Logger
	Job       string
}

// LoadAll creates every table, empties them in reverse order under
// LoadReplace, then copies rows in order and in batches. Referenced tables
// must come before the tables that reference them.
func (l *Loader) LoadAll(ctx context.Context, loads []Load) (total int64, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep(l.Job, "warehouse_load", err, time.Since(start)) }()
	log := logger.OrDiscard(l.Logger)

	specs := make([]TableSpec, len(loads))
	for i, ld := range loads {
		specs[i] = ld.Spec
	}
	if err := l.Repo.EnsureTables(ctx, specs); err != nil {
		return 0, fmt.Errorf("ensure tables: %w", err)
	}

	switch l.Mode {
	case "", LoadReplace:
		for _, s := range slices.Backward(specs) {
			if err := l.Repo.DeleteRows(ctx, s.Name); err != nil {
				return 0, fmt.Errorf("delete rows %s: %w", s.Name, err)
			}
		}
	case LoadAppend:
	default:
		return 0, fmt.Errorf("storage: unknown load mode %q", l.Mode)
	}

	batch := l.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	for _, ld := range loads {
		n, batches, err := l.copyTable(ctx, ld, batch)
		total += n
		if err != nil {
			return total, fmt.Errorf("load %s: %w", ld.Spec.Name, err)
		}
		metrics.RecordBatches(l.Job, int64(batches))
		metrics.RecordRow(l.Job, "loaded", n)
		log.Info("table loaded",
			"stage", "warehouse_load",
			"table", ld.Spec.Name,
			"rows", n,
			"batches", batches,
		)
	}
	return total, nil
}

func (l *Loader) copyTable(ctx context.Context, ld Load, batch int) (int64, int, error) {
	cols := ld.Spec.ColumnNames()
	proj, err := ld.Table.Project(cols...)
	if err != nil {
		return 0, 0, err
	}
	rows := Coerce(ld.Spec, proj.Rows)

	var (
		total   int64
		batches int
	)
	for chunk := range slices.Chunk(rows, batch) {
		if err := ctx.Err(); err != nil {
			return total, batches, err
		}
		n, err := l.Repo.CopyRows(ctx, ld.Spec.Name, cols, chunk)
		if err != nil {
			return total, batches, err
		}
		total += n
		batches++
	}
	return total, batches, nil
}
