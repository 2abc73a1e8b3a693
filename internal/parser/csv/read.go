// Package csv reads delimited text into table.Table values and writes them
// back out.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"stardim/internal/config"
	"stardim/internal/table"
)

// DefaultNAValues are the cell texts read as missing, in addition to "".
var DefaultNAValues = []string{
	"#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None",
	"n/a", "nan", "null",
}

// Options control how a source is read.
type Options struct {
	Comma      rune
	TrimSpace  bool
	LazyQuotes bool
	// Encoding is a WHATWG encoding label (utf-8, windows-1252, latin1, ...).
	Encoding string
	// HeaderMap renames source headers before column lookup.
	HeaderMap map[string]string
	// NAValues replaces DefaultNAValues when non-nil.
	NAValues []string
	// Columns restricts the read to these columns, in this order. Every
	// listed column must exist. Nil reads all columns.
	Columns []string
}

// OptionsFrom maps parser options from a pipeline config.
func OptionsFrom(o config.Options) Options {
	opt := Options{
		Comma:      o.Rune("comma", ','),
		TrimSpace:  o.Bool("trim_space", true),
		LazyQuotes: o.Bool("lazy_quotes", false),
		Encoding:   o.String("encoding", "utf-8"),
		HeaderMap:  o.StringMap("header_map"),
	}
	if _, ok := o["na_values"]; ok {
		opt.NAValues = o.StringSlice("na_values")
	}
	return opt
}

// WithColumns returns a copy of o reading only cols.
func (o Options) WithColumns(cols []string) Options {
	o.Columns = append([]string(nil), cols...)
	return o
}

// Decoder returns a reader that decodes r from o.Encoding to UTF-8.
func (o Options) Decoder(r io.Reader) (io.Reader, error) {
	name := strings.ToLower(strings.TrimSpace(o.Encoding))
	if name == "" || name == "utf-8" || name == "utf8" {
		return r, nil
	}
	var enc encoding.Encoding
	switch name {
	case "utf-16", "utf16":
		enc = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	default:
		e, err := htmlindex.Get(name)
		if err != nil {
			return nil, fmt.Errorf("unsupported encoding %q: %w", o.Encoding, err)
		}
		enc = e
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// ReadTable parses a whole CSV source with a header row into a table named
// name. Column kinds are inferred from the values; empty and NA cells are nil.
func ReadTable(ctx context.Context, src io.Reader, name string, opt Options) (*table.Table, error) {
	r, err := opt.Decoder(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	hdr, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty file, no header row", name)
		}
		return nil, fmt.Errorf("%s: read header: %w", name, err)
	}
	headers := normalizeHeaders(hdr, opt.HeaderMap)

	all := table.New(name, headers, nil)
	cols := headers
	srcIx := make([]int, len(headers))
	for i := range srcIx {
		srcIx[i] = i
	}
	if opt.Columns != nil {
		idx, err := all.Require(opt.Columns...)
		if err != nil {
			return nil, err
		}
		cols = append([]string(nil), opt.Columns...)
		srcIx = idx
	}

	na := naSet(opt.NAValues)
	raw := make([][]string, len(cols))
	missing := make([][]bool, len(cols))

	for line := 2; ; line++ {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if len(rec) > len(headers) {
			return nil, fmt.Errorf("%s: line %d: expected %d fields, saw %d", name, line, len(headers), len(rec))
		}
		for c, si := range srcIx {
			v := ""
			if si < len(rec) {
				v = rec[si]
			}
			if opt.TrimSpace && hasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			_, isNA := na[v]
			if isNA {
				v = ""
			}
			raw[c] = append(raw[c], v)
			missing[c] = append(missing[c], isNA || v == "")
		}
	}

	out := table.New(name, cols, nil)
	nrows := 0
	if len(cols) > 0 {
		nrows = len(raw[0])
	}
	out.Rows = make([][]any, nrows)
	for r := range out.Rows {
		out.Rows[r] = make([]any, len(cols))
	}
	for c := range cols {
		k := table.InferKind(raw[c])
		out.Kinds[c] = k
		for r, v := range raw[c] {
			if missing[c][r] {
				continue
			}
			out.Rows[r][c] = table.ParseValue(v, k)
		}
	}
	return out, nil
}

// normalizeHeaders trims header cells, strips a UTF-8 BOM, applies headerMap,
// and renames repeated headers X, X.1, X.2 so every column is addressable.
func normalizeHeaders(hdr []string, headerMap map[string]string) []string {
	out := make([]string, len(hdr))
	seen := make(map[string]int, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if hasEdgeSpace(h) {
			h = strings.TrimSpace(h)
		}
		if mapped, ok := headerMap[h]; ok {
			h = mapped
		}
		if n, dup := seen[h]; dup {
			seen[h] = n + 1
			h = h + "." + strconv.Itoa(n+1)
		} else {
			seen[h] = 0
		}
		out[i] = h
	}
	return out
}

func naSet(values []string) map[string]struct{} {
	if values == nil {
		values = DefaultNAValues
	}
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// hasEdgeSpace reports whether s starts or ends with ASCII whitespace, so
// clean values skip the TrimSpace allocation.
func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	switch s[len(s)-1] {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
