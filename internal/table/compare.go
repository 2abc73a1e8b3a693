package table

import (
	"cmp"
	"fmt"
	"strings"
	"time"
)

// Compare orders two cell values by their natural ordering: numeric for
// numbers, lexicographic for text, chronological for dates, false before
// true. Missing values sort after everything else.
//
// Values of different families (e.g. text vs number in a KindAny column)
// are ordered by family: bool, number, date, text, other.
func Compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}

	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}

	switch ra {
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case rankNumber:
		return compareNumbers(a, b)
	case rankDate:
		return a.(time.Time).Compare(b.(time.Time))
	case rankText:
		return strings.Compare(a.(string), b.(string))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// CompareRows compares two tuples left to right.
func CompareRows(a, b []any) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

// Equal reports whether two cell values denote the same value. Integers and
// floats with the same numeric value are equal.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return rank(a) == rank(b) && Compare(a, b) == 0
}

const (
	rankBool = iota
	rankNumber
	rankDate
	rankText
	rankOther
)

func rank(v any) int {
	switch v.(type) {
	case bool:
		return rankBool
	case int64, int, float64:
		return rankNumber
	case time.Time:
		return rankDate
	case string:
		return rankText
	default:
		return rankOther
	}
}

func compareNumbers(a, b any) int {
	ai, aInt := asInt(a)
	bi, bInt := asInt(b)
	if aInt && bInt {
		return cmp.Compare(ai, bi)
	}
	return cmp.Compare(asFloat(a), asFloat(b))
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
