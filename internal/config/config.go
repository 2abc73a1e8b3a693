// Package config defines the JSON pipeline model for stardim runs.
//
// Example (trimmed):
//
//	{
//	  "job": "inventory_2016",
//	  "parser":  { "kind": "csv", "options": { "comma": ",", "trim_space": true } },
//	  "sources": [ { "path": "SalesFINAL12312016.csv", "date_columns": ["SalesDate"] } ],
//	  "date_dimension": { "output": "Dim_Time_keys.csv", "weekend": "sunday_only" },
//	  "key_indexes": [ { "name": "dim_vendor", "source": "...", "columns": ["VendorNumber", "VendorName"] } ],
//	  "output":  { "target": "out" },
//	  "storage": { "kind": "sqlite", "dsn": "file:star.db" }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"stardim/internal/datasource"
)

// DefaultDateDimensionOutput is where the date dimension is persisted unless
// configured otherwise.
const DefaultDateDimensionOutput = "Dim_Time_keys.csv"

// DefaultNormalizedSuffix is appended to a source's file stem for its
// normalized output.
const DefaultNormalizedSuffix = "_normalized"

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	Job           string        `json:"job"`
	Parser        Parser        `json:"parser"`
	Sources       []Source      `json:"sources"`
	DateDimension DateDimension `json:"date_dimension"`
	KeyIndexes    []KeyIndex    `json:"key_indexes"`
	Output        Output        `json:"output"`
	Storage       Storage       `json:"storage"`
	Runtime       RuntimeConfig `json:"runtime"`
}

// Parser selects how source bytes become tables.
//
// For csv, recognised options are:
//
//	comma (string), trim_space (bool), lazy_quotes (bool),
//	encoding (string), header_map (object)
type Parser struct {
	Kind    string  `json:"kind"`
	Options Options `json:"options"`
}

// Source is one fact extract and the columns in it that hold dates.
type Source struct {
	Path        string   `json:"path"`
	DateColumns []string `json:"date_columns"`
}

// DateDimension configures the shared date dimension.
type DateDimension struct {
	// Output is the file name written under the output target.
	Output string `json:"output"`
	// Table is the warehouse table name; derived from Output when empty.
	Table string `json:"table"`
	// Weekend is "sunday_only" (default) or "saturday_sunday".
	Weekend string `json:"weekend"`
	// PreferMonthFirst reads 01/02/2016 as January 2nd. Defaults to true.
	PreferMonthFirst *bool `json:"prefer_month_first"`
}

// MonthFirst resolves PreferMonthFirst with its default.
func (d DateDimension) MonthFirst() bool {
	if d.PreferMonthFirst == nil {
		return true
	}
	return *d.PreferMonthFirst
}

// OutputName resolves Output with its default.
func (d DateDimension) OutputName() string {
	if strings.TrimSpace(d.Output) == "" {
		return DefaultDateDimensionOutput
	}
	return d.Output
}

// KeyIndex is one keyed dimension built from 2..5 columns of a source.
type KeyIndex struct {
	Name    string   `json:"name"`
	Source  string   `json:"source"`
	Columns []string `json:"columns"`
	// Output is the file name written under the output target; defaults to
	// <Name>.csv.
	Output string `json:"output"`
}

// OutputName resolves Output with its default.
func (k KeyIndex) OutputName() string {
	if strings.TrimSpace(k.Output) != "" {
		return k.Output
	}
	return k.Name + ".csv"
}

// Output is where produced files go: a directory or an s3://bucket/prefix URI.
type Output struct {
	Target           string `json:"target"`
	NormalizedSuffix string `json:"normalized_suffix"`
}

// Suffix resolves NormalizedSuffix with its default.
func (o Output) Suffix() string {
	if o.NormalizedSuffix == "" {
		return DefaultNormalizedSuffix
	}
	return o.NormalizedSuffix
}

// NormalizedName is the file name a source's normalized table is written to.
func (o Output) NormalizedName(source string) string {
	return datasource.Stem(source) + o.Suffix() + ".csv"
}

// Storage optionally loads every produced table into a warehouse.
// Kind is one of sqlite, postgres, mssql; empty disables the load.
type Storage struct {
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
	// LoadMode is "replace" (default) or "append".
	LoadMode string `json:"load_mode"`
}

// RuntimeConfig controls warehouse batching.
type RuntimeConfig struct {
	BatchSize int `json:"batch_size"`
}

// Decode decodes a pipeline from JSON bytes, rejecting unknown fields.
// ${VAR} references in the storage DSN and output target are expanded from
// the environment.
func Decode(b []byte) (Pipeline, error) {
	var p Pipeline
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config: %w", err)
	}
	p.Storage.DSN = os.ExpandEnv(p.Storage.DSN)
	p.Output.Target = os.ExpandEnv(p.Output.Target)
	if p.Parser.Options == nil {
		p.Parser.Options = Options{}
	}
	return p, nil
}

// SourcePaths returns the source paths in order.
func (p Pipeline) SourcePaths() []string {
	out := make([]string, len(p.Sources))
	for i, s := range p.Sources {
		out[i] = s.Path
	}
	return out
}

// DateColumns returns the per-source date column lists in order.
func (p Pipeline) DateColumns() [][]string {
	out := make([][]string, len(p.Sources))
	for i, s := range p.Sources {
		out[i] = append([]string(nil), s.DateColumns...)
	}
	return out
}
