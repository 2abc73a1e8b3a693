// Package table is the in-memory tabular model shared by the indexers, the
// date dimension builder and the normalizer.
//
// A Table is an ordered list of named columns with rows addressable by
// position. Cells hold one of:
//
//	nil        missing value
//	string     text
//	int64      integer
//	float64    floating point
//	bool       boolean
//	time.Time  calendar date (UTC midnight)
//
// Tables are never shared between components: every transformation returns a
// new Table and leaves its input untouched.
package table

import (
	"errors"
	"fmt"
)

// ErrMissingColumn is returned (wrapped) when a requested column is absent.
var ErrMissingColumn = errors.New("missing column")

// MissingColumnError names the absent column and the table it was requested from.
type MissingColumnError struct {
	Table  string
	Column string
}

func (e *MissingColumnError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("missing column %q", e.Column)
	}
	return fmt.Sprintf("%s: missing column %q", e.Table, e.Column)
}

func (e *MissingColumnError) Unwrap() error { return ErrMissingColumn }

// Table is an ordered collection of named, typed columns.
//
// Name identifies the table in errors and logs (usually the source path).
// Kinds is aligned with Columns; Rows are aligned with Columns.
type Table struct {
	Name    string
	Columns []string
	Kinds   []Kind
	Rows    [][]any
}

// New returns an empty table. When kinds is nil every column is KindAny.
func New(name string, columns []string, kinds []Kind) *Table {
	cols := append([]string(nil), columns...)
	ks := make([]Kind, len(cols))
	copy(ks, kinds)
	return &Table{Name: name, Columns: cols, Kinds: ks}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Index returns the position of col, or -1.
func (t *Table) Index(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Require resolves every column to its position. The first absent column
// produces a *MissingColumnError.
func (t *Table) Require(cols ...string) ([]int, error) {
	idx := make([]int, len(cols))
	for i, c := range cols {
		j := t.Index(c)
		if j < 0 {
			return nil, &MissingColumnError{Table: t.Name, Column: c}
		}
		idx[i] = j
	}
	return idx, nil
}

// KindOf returns the kind of col, or KindAny when col is absent.
func (t *Table) KindOf(col string) Kind {
	if i := t.Index(col); i >= 0 && i < len(t.Kinds) {
		return t.Kinds[i]
	}
	return KindAny
}

// Append adds one row. The row must have exactly one value per column.
func (t *Table) Append(row ...any) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("table %s: row has %d values, want %d", t.Name, len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Column returns a copy of the values of col.
func (t *Table) Column(col string) ([]any, error) {
	idx, err := t.Require(col)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[idx[0]]
	}
	return out, nil
}

// Project returns a new table holding exactly cols, in the given order.
func (t *Table) Project(cols ...string) (*Table, error) {
	idx, err := t.Require(cols...)
	if err != nil {
		return nil, err
	}
	out := &Table{
		Name:    t.Name,
		Columns: append([]string(nil), cols...),
		Kinds:   make([]Kind, len(cols)),
		Rows:    make([][]any, len(t.Rows)),
	}
	for i, j := range idx {
		out.Kinds[i] = t.kindAt(j)
	}
	for r, row := range t.Rows {
		nr := make([]any, len(idx))
		for i, j := range idx {
			nr[i] = row[j]
		}
		out.Rows[r] = nr
	}
	return out, nil
}

// Drop returns a new table without cols. Absent columns are ignored.
func (t *Table) Drop(cols ...string) *Table {
	skip := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		skip[c] = struct{}{}
	}
	keep := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if _, ok := skip[c]; !ok {
			keep = append(keep, c)
		}
	}
	out, _ := t.Project(keep...)
	return out
}

// AddColumn returns a new table with col appended. values must have one
// entry per row.
func (t *Table) AddColumn(col string, kind Kind, values []any) (*Table, error) {
	if len(values) != len(t.Rows) {
		return nil, fmt.Errorf("table %s: column %q has %d values, want %d", t.Name, col, len(values), len(t.Rows))
	}
	out := &Table{
		Name:    t.Name,
		Columns: append(append([]string(nil), t.Columns...), col),
		Kinds:   append(append([]Kind(nil), t.kinds()...), kind),
		Rows:    make([][]any, len(t.Rows)),
	}
	for i, r := range t.Rows {
		nr := make([]any, 0, len(r)+1)
		nr = append(nr, r...)
		out.Rows[i] = append(nr, values[i])
	}
	return out, nil
}

// Clone returns a deep copy of the row slices. Cell values are immutable
// scalars so they are shared.
func (t *Table) Clone() *Table {
	out := &Table{
		Name:    t.Name,
		Columns: append([]string(nil), t.Columns...),
		Kinds:   append([]Kind(nil), t.kinds()...),
		Rows:    make([][]any, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = append([]any(nil), r...)
	}
	return out
}

func (t *Table) kindAt(i int) Kind {
	if i < len(t.Kinds) {
		return t.Kinds[i]
	}
	return KindAny
}

func (t *Table) kinds() []Kind {
	ks := make([]Kind, len(t.Columns))
	for i := range ks {
		ks[i] = t.kindAt(i)
	}
	return ks
}
