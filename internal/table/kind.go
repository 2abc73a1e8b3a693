package table

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the logical type of a column.
type Kind int

const (
	KindAny Kind = iota
	KindText
	KindInt
	KindFloat
	KindBool
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	default:
		return "any"
	}
}

// InferKind picks a coarse kind for a column from its raw text values.
// Empty strings are treated as missing and do not influence the result.
//
// Preference order: integer, boolean, float, text. A column with no
// non-empty values is text. Dates are never inferred here; only the
// components that own date semantics parse them.
func InferKind(values []string) Kind {
	seen := false
	allInt, allBool, allFloat := true, true, true

	for _, v := range values {
		if v == "" {
			continue
		}
		seen = true
		if allInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
		}
		if allBool {
			if _, ok := parseBool(v); !ok {
				allBool = false
			}
		}
		if allFloat {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				allFloat = false
			}
		}
		if !allInt && !allBool && !allFloat {
			break
		}
	}

	switch {
	case !seen:
		return KindText
	case allInt:
		return KindInt
	case allBool:
		return KindBool
	case allFloat:
		return KindFloat
	default:
		return KindText
	}
}

// ParseValue converts raw text to a cell value of kind k. Empty text is nil.
// Values that do not fit k are kept as text.
func ParseValue(s string, k Kind) any {
	if s == "" {
		return nil
	}
	switch k {
	case KindInt:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case KindFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case KindBool:
		if b, ok := parseBool(s); ok {
			return b
		}
	}
	return s
}

// FormatValue renders a cell for delimited text output.
//
// Booleans are written as True/False and dates as 2006-01-02, which keeps
// Dim_Time_keys.csv byte-compatible with earlier extracts.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "True"
		}
		return "False"
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format(time.DateOnly)
		}
		return t.Format(time.DateTime)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}
