package csv

import (
	"encoding/csv"
	"fmt"
	"io"

	"stardim/internal/table"
)

// WriteTable writes t with a header row and no index column. Cells are
// rendered with table.FormatValue; nil becomes an empty field.
func WriteTable(w io.Writer, t *table.Table, comma rune) error {
	cw := csv.NewWriter(w)
	if comma != 0 {
		cw.Comma = comma
	}
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rec := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		for c := range rec {
			if c < len(row) {
				rec[c] = table.FormatValue(row[c])
			} else {
				rec[c] = ""
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
