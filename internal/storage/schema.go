package storage

import (
	"fmt"

	"stardim/internal/table"
)

// Logical column types. Backends map them to concrete SQL types.
const (
	TypeInt   = "int"
	TypeFloat = "float"
	TypeBool  = "bool"
	TypeDate  = "date"
	TypeText  = "text"
)

// TableSpec describes a warehouse table.
type TableSpec struct {
	Name       string
	PrimaryKey string
	Columns    []ColumnSpec
}

// ColumnSpec describes one column. References names the table whose
// primary key this column points at.
type ColumnSpec struct {
	Name       string
	Type       string
	References string
	Nullable   bool
}

// Reference ties a foreign key column to a dimension table and its key.
type Reference struct {
	Table  string
	Column string
}

// TypeOf maps a table kind to its logical column type.
func TypeOf(k table.Kind) string {
	switch k {
	case table.KindInt:
		return TypeInt
	case table.KindFloat:
		return TypeFloat
	case table.KindBool:
		return TypeBool
	case table.KindDate:
		return TypeDate
	default:
		return TypeText
	}
}

// SpecFor derives a TableSpec from t. primaryKey may be empty; refs maps
// column names to the dimension they reference.
func SpecFor(name string, t *table.Table, primaryKey string, refs map[string]Reference) (TableSpec, error) {
	if name == "" {
		return TableSpec{}, fmt.Errorf("storage: table name is empty")
	}
	if primaryKey != "" && t.Index(primaryKey) < 0 {
		return TableSpec{}, &table.MissingColumnError{Table: t.Name, Column: primaryKey}
	}
	spec := TableSpec{Name: name, PrimaryKey: primaryKey, Columns: make([]ColumnSpec, len(t.Columns))}
	for i, col := range t.Columns {
		c := ColumnSpec{
			Name:     col,
			Type:     TypeOf(t.KindOf(col)),
			Nullable: col != primaryKey,
		}
		if ref, ok := refs[col]; ok {
			c.References = ref.Table + "(" + ref.Column + ")"
		}
		spec.Columns[i] = c
	}
	return spec, nil
}

// Coerce converts cells for loading: text columns carry strings, every
// other value passes through. nil stays nil.
func Coerce(spec TableSpec, rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		nr := make([]any, len(r))
		for j, v := range r {
			if v != nil && j < len(spec.Columns) && spec.Columns[j].Type == TypeText {
				if _, ok := v.(string); !ok {
					v = table.FormatValue(v)
				}
			}
			nr[j] = v
		}
		out[i] = nr
	}
	return out
}

// ColumnNames returns the column names of spec in order.
func (s TableSpec) ColumnNames() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}
