// Package normalize rewrites source extracts as fact tables whose date
// columns are replaced by foreign keys into the date dimension.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stardim/internal/calendar"
	"stardim/internal/dimension"
	"stardim/internal/extract"
	"stardim/internal/logger"
	"stardim/internal/metrics"
	"stardim/internal/table"
)

// KeySuffix is appended to a date column's name to form its key column.
const KeySuffix = "_ID"

// Result holds the date dimension and every normalized source.
type Result struct {
	Dimension *dimension.DateDimension
	// Order lists each distinct source in the order it was processed.
	Order  []string
	Tables map[string]*table.Table
	// Unmatched counts, per source, the non-missing date cells that did not
	// resolve to a dimension row.
	Unmatched map[string]int
}

// PersistFunc stores the rendered date dimension.
type PersistFunc func(ctx context.Context, dim *table.Table) error

// Normalizer builds the date dimension, persists it, then rewrites each
// source against it.
type Normalizer struct {
	Loader  extract.TableLoader
	Builder *dimension.DateBuilder
	// Parser reads source cells leniently. Defaults to the Builder's parser.
	Parser *calendar.Parser
	// Persist is called once with the dimension before any source is
	// rewritten. Nil skips persistence.
	Persist PersistFunc
	// DimensionName names the rendered dimension table.
	DimensionName string
	Logger        *slog.Logger
	Job           string
}

// Normalize runs the whole date normalization. Sources are processed in
// order; a repeated source keeps its first position in Order and its last
// result in Tables.
func (n *Normalizer) Normalize(ctx context.Context, sources []dimension.SourceColumns) (res *Result, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep(n.Job, "normalize", err, time.Since(start)) }()
	log := logger.OrDiscard(n.Logger)

	dim, err := n.Builder.Build(ctx, sources)
	if err != nil {
		return nil, err
	}

	if n.Persist != nil {
		name := n.DimensionName
		if name == "" {
			name = "Dim_Time_keys"
		}
		if err := n.Persist(ctx, dim.Table(name)); err != nil {
			return nil, fmt.Errorf("persist date dimension: %w", err)
		}
	}

	parser := n.Parser
	if parser == nil {
		parser = n.Builder.Parser
	}
	if parser == nil {
		parser = calendar.NewParser(true)
	}

	res = &Result{
		Dimension: dim,
		Tables:    make(map[string]*table.Table, len(sources)),
		Unmatched: make(map[string]int, len(sources)),
	}
	for _, sc := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := n.Loader.Load(ctx, sc.Source, nil)
		if err != nil {
			return nil, err
		}
		out, unmatched, err := NormalizeTable(t, sc.Columns, dim, parser)
		if err != nil {
			return nil, err
		}

		if _, seen := res.Tables[sc.Source]; !seen {
			res.Order = append(res.Order, sc.Source)
		}
		res.Tables[sc.Source] = out
		res.Unmatched[sc.Source] = unmatched

		metrics.RecordRow(n.Job, "normalized", int64(out.Len()))
		metrics.RecordRow(n.Job, "unmatched_date", int64(unmatched))
		log.Info("source normalized",
			"stage", "normalize",
			"source", sc.Source,
			"rows", out.Len(),
			"date_columns", len(sc.Columns),
			"unmatched", unmatched,
		)
	}
	return res, nil
}

// NormalizeTable replaces each date column of t with <column>_ID, appended
// at the end in column order. Cells are parsed leniently; a cell that is
// missing, unreadable or absent from dim gets a missing key. Row count and
// order are preserved. The second result counts non-missing cells left
// without a key.
func NormalizeTable(t *table.Table, columns []string, dim *dimension.DateDimension, p *calendar.Parser) (*table.Table, int, error) {
	if _, err := t.Require(columns...); err != nil {
		return nil, 0, err
	}

	out := t
	unmatched := 0
	for _, col := range columns {
		cells, err := out.Column(col)
		if err != nil {
			return nil, 0, err
		}
		keys := make([]any, len(cells))
		for i, v := range cells {
			if v == nil {
				continue
			}
			day, ok := p.ParseValueLenient(v)
			if ok {
				if id, found := dim.Lookup(day); found {
					keys[i] = id
					continue
				}
			}
			unmatched++
		}
		keyCol := col + KeySuffix
		out, err = out.Drop(col, keyCol).AddColumn(keyCol, table.KindInt, keys)
		if err != nil {
			return nil, 0, err
		}
	}
	if out == t {
		out = t.Clone()
	}
	return out, unmatched, nil
}
