// Package probe samples a CSV source and reports which columns look like
// dates, so a pipeline config can be bootstrapped without reading the whole
// file.
//
// Sampling is bounded by Options.MaxBytes and inference is best-effort:
// rows with the wrong field count are skipped rather than failing the run.
package probe

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"stardim/internal/calendar"
	"stardim/internal/config"
	"stardim/internal/datasource"
	"stardim/internal/table"
)

// Defaults for Options.
const (
	DefaultMaxBytes  = 20 << 10
	DefaultThreshold = 0.9

	distinctCapPerColumn = 10000
)

// Options control sampling and suggestion.
type Options struct {
	// MaxBytes sampled from the start of the source.
	MaxBytes int
	// Comma is the field delimiter; ',' when zero.
	Comma rune
	// Threshold is the minimum share of non-empty values that must parse
	// strictly for a column to be suggested.
	Threshold float64
	// Parser reads dates; month-first in UTC when nil.
	Parser *calendar.Parser
}

func (o Options) withDefaults() Options {
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.Comma == 0 {
		o.Comma = ','
	}
	if o.Threshold <= 0 || o.Threshold > 1 {
		o.Threshold = DefaultThreshold
	}
	if o.Parser == nil {
		o.Parser = calendar.NewParser(true)
	}
	return o
}

// ColumnReport summarizes one sampled column.
type ColumnReport struct {
	Column   string     `json:"column"`
	Kind     table.Kind `json:"-"`
	KindName string     `json:"kind"`
	NonEmpty int        `json:"non_empty"`
	Parsed   int        `json:"parsed"`
	Ratio    float64    `json:"ratio"`
	// Layout is the layout that read most values, or calendar.LayoutFallback.
	Layout    string `json:"layout,omitempty"`
	Distinct  int    `json:"distinct"`
	Capped    bool   `json:"distinct_capped,omitempty"`
	Suggested bool   `json:"suggested"`
}

// Peek reads at most n bytes of ref and cuts the sample at the last newline
// so no partial record is returned. A source shorter than n is returned
// whole.
func Peek(ctx context.Context, store datasource.Store, ref string, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("peek: n must be > 0")
	}
	rc, err := store.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(rc, int64(n)+1)); err != nil {
		return nil, err
	}
	b := buf.Bytes()
	if len(b) <= n {
		return b, nil
	}
	b = b[:n]
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		b = b[:i+1]
	}
	return b, nil
}

// DateColumns reports on every column of the sample. Only text columns are
// suggested: integer columns such as 20160105 are left to the user.
func DateColumns(sample []byte, opt Options) ([]ColumnReport, error) {
	opt = opt.withDefaults()
	headers, rows, err := readCSVSample(sample, opt.Comma)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, errors.New("probe: sample has no header")
	}

	out := make([]ColumnReport, len(headers))
	for col, h := range headers {
		values := make([]string, 0, len(rows))
		for _, r := range rows {
			if v := r[col]; v != "" {
				values = append(values, v)
			}
		}
		rep := ColumnReport{Column: h, NonEmpty: len(values), Kind: table.InferKind(values)}
		rep.KindName = rep.Kind.String()
		rep.Distinct, rep.Capped = countDistinct(values)

		layouts := map[string]int{}
		for _, v := range values {
			if lay, ok := opt.Parser.Layout(v); ok {
				rep.Parsed++
				layouts[lay]++
			}
		}
		rep.Layout = majority(layouts)
		if rep.NonEmpty > 0 {
			rep.Ratio = float64(rep.Parsed) / float64(rep.NonEmpty)
		}
		rep.Suggested = rep.Kind == table.KindText && rep.NonEmpty > 0 && rep.Ratio >= opt.Threshold
		out[col] = rep
	}
	return out, nil
}

// SuggestSource returns a source entry listing the suggested date columns
// in sample order.
func SuggestSource(path string, reports []ColumnReport) config.Source {
	src := config.Source{Path: path, DateColumns: []string{}}
	for _, r := range reports {
		if r.Suggested {
			src.DateColumns = append(src.DateColumns, r.Column)
		}
	}
	return src
}

// Summary renders reports as CSV text for terminals.
func Summary(reports []ColumnReport) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "column,kind,non_empty,parsed,ratio,layout,distinct,suggested\n")
	for _, r := range reports {
		distinct := fmt.Sprint(r.Distinct)
		if r.Capped {
			distinct += "+"
		}
		fmt.Fprintf(&b, "%s,%s,%d,%d,%.2f,%s,%s,%t\n",
			r.Column, r.KindName, r.NonEmpty, r.Parsed, r.Ratio, r.Layout, distinct, r.Suggested)
	}
	return []byte(b.String())
}

// readCSVSample parses CSV bytes into a header row and the data rows.
// Records with the wrong field count are skipped; values are trimmed.
func readCSVSample(data []byte, delimiter rune) ([]string, [][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\uFEFF"))
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	headers, err := r.Read()
	if err != nil {
		return nil, nil, err
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	rows := make([][]string, 0, 1024)
	for {
		rec, err := r.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return headers, rows, err
		}
		if len(rec) != len(headers) {
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}
	return headers, rows, nil
}

// countDistinct counts distinct values up to distinctCapPerColumn.
func countDistinct(values []string) (int, bool) {
	seen := make(map[string]struct{}, min(len(values), distinctCapPerColumn))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		if len(seen) == distinctCapPerColumn {
			return len(seen), true
		}
		seen[v] = struct{}{}
	}
	return len(seen), false
}

// majority returns the most frequent key; ties go to the lexically smaller
// layout so output is stable.
func majority(counts map[string]int) string {
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}
