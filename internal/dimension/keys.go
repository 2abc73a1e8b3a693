// Package dimension builds star-schema dimension tables: keyed dimensions
// over a projection of source columns, and the shared date dimension.
package dimension

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/zeebo/xxh3"

	"stardim/internal/extract"
	"stardim/internal/table"
)

// IDColumn is the surrogate key column of every dimension.
const IDColumn = "ID"

// Key index width bounds.
const (
	MinKeyColumns = 2
	MaxKeyColumns = 5
)

// ErrKeyColumnCount is returned when a key index is not 2 to 5 columns wide.
var ErrKeyColumnCount = errors.New("key index needs 2 to 5 distinct columns")

// KeyIndexer builds keyed dimensions from sources.
type KeyIndexer struct {
	Loader extract.TableLoader
}

// Index loads source and returns IndexKeys over columns. Only the key
// columns are read.
func (k *KeyIndexer) Index(ctx context.Context, source string, columns []string) (*table.Table, error) {
	if err := checkKeyColumns(columns); err != nil {
		return nil, err
	}
	t, err := k.Loader.Load(ctx, source, columns)
	if err != nil {
		return nil, err
	}
	return IndexKeys(t, columns)
}

// IndexKeys projects t onto columns, drops duplicate tuples, sorts the rest
// ascending left to right by each column's natural ordering, and numbers
// them 1..N. The result has columns [ID] + columns. t is not modified.
func IndexKeys(t *table.Table, columns []string) (*table.Table, error) {
	if err := checkKeyColumns(columns); err != nil {
		return nil, err
	}
	proj, err := t.Project(columns...)
	if err != nil {
		return nil, err
	}

	rows := distinctRows(proj.Rows)
	slices.SortStableFunc(rows, table.CompareRows)

	out := table.New(t.Name, append([]string{IDColumn}, columns...), append([]table.Kind{table.KindInt}, proj.Kinds...))
	out.Rows = make([][]any, len(rows))
	for i, r := range rows {
		nr := make([]any, 0, len(r)+1)
		nr = append(nr, int64(i+1))
		out.Rows[i] = append(nr, r...)
	}
	return out, nil
}

func checkKeyColumns(columns []string) error {
	if n := len(columns); n < MinKeyColumns || n > MaxKeyColumns {
		return fmt.Errorf("%w: got %d", ErrKeyColumnCount, n)
	}
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: %q listed twice", ErrKeyColumnCount, c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// distinctRows keeps the first occurrence of every tuple. Tuples are bucketed
// by an xxh3 hash of their canonical encoding and confirmed cell by cell.
func distinctRows(rows [][]any) [][]any {
	buckets := make(map[uint64][]int, len(rows))
	out := make([][]any, 0, len(rows))
	var buf []byte

next:
	for _, r := range rows {
		buf = appendTuple(buf[:0], r)
		h := xxh3.Hash(buf)
		for _, j := range buckets[h] {
			if sameTuple(out[j], r) {
				continue next
			}
		}
		buckets[h] = append(buckets[h], len(out))
		out = append(out, r)
	}
	return out
}

func sameTuple(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !table.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// appendTuple writes a canonical encoding of r. Missing is a lone NUL byte;
// integral floats encode like integers so 1 and 1.0 collide, matching
// table.Equal.
func appendTuple(buf []byte, r []any) []byte {
	for _, v := range r {
		switch x := v.(type) {
		case nil:
			buf = append(buf, 0)
		case bool:
			buf = append(buf, 'b')
			if x {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case int64:
			buf = appendInt(buf, x)
		case int:
			buf = appendInt(buf, int64(x))
		case float64:
			if x == math.Trunc(x) && math.Abs(x) < 1<<62 {
				buf = appendInt(buf, int64(x))
			} else {
				buf = append(buf, 'f')
				buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(x))
			}
		case time.Time:
			buf = append(buf, 't')
			buf = binary.LittleEndian.AppendUint64(buf, uint64(x.UnixNano()))
		case string:
			buf = append(buf, 's')
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(x)))
			buf = append(buf, x...)
		default:
			s := fmt.Sprint(x)
			buf = append(buf, 'o')
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
			buf = append(buf, s...)
		}
		buf = append(buf, 0x1f)
	}
	return buf
}

func appendInt(buf []byte, n int64) []byte {
	buf = append(buf, 'i')
	return binary.LittleEndian.AppendUint64(buf, uint64(n))
}
