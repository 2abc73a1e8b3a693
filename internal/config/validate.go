package config

import (
	"fmt"
	"strings"

	"stardim/internal/calendar"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single validation finding. Path is a dotted path into the
// config (e.g. "sources[1].date_columns").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// MaxKeyColumns and MinKeyColumns bound the width of a keyed dimension.
const (
	MinKeyColumns = 2
	MaxKeyColumns = 5
)

// ValidatePipeline performs static checks over p. It does not mutate p.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels logs and metrics",
		})
	}
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateSources(p.Sources)...)
	issues = append(issues, validateDateDimension(p.DateDimension)...)
	issues = append(issues, validateKeyIndexes(p.KeyIndexes)...)
	issues = append(issues, validateOutput(p.Output)...)
	issues = append(issues, validateOutputNames(p)...)
	issues = append(issues, validateStorage(p.Storage)...)
	if p.Runtime.BatchSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.batch_size",
			Message:  "batch_size must be >= 0",
		})
	}
	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue
	switch strings.TrimSpace(p.Kind) {
	case "", "csv":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  fmt.Sprintf("unsupported parser kind %q; only csv is available", p.Kind),
		})
	}
	if s := p.Options.String("comma", ","); len([]rune(s)) != 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.options.comma",
			Message:  fmt.Sprintf("comma must be a single character, got %q", s),
		})
	}
	return issues
}

func validateSources(ss []Source) []Issue {
	var issues []Issue
	if len(ss) == 0 {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "sources",
			Message:  "at least one source is required",
		})
	}

	seen := map[string]int{}
	for i, s := range ss {
		path := fmt.Sprintf("sources[%d]", i)
		if strings.TrimSpace(s.Path) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".path",
				Message:  "source path must not be empty",
			})
			continue
		}
		if j, dup := seen[s.Path]; dup {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".path",
				Message:  fmt.Sprintf("duplicate of sources[%d]; results are keyed by path", j),
			})
		}
		seen[s.Path] = i

		if len(s.DateColumns) == 0 {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path + ".date_columns",
				Message:  "no date columns; the source is copied through unchanged",
			})
		}
		cols := map[string]struct{}{}
		for k, c := range s.DateColumns {
			cp := fmt.Sprintf("%s.date_columns[%d]", path, k)
			if strings.TrimSpace(c) == "" {
				issues = append(issues, Issue{Severity: SeverityError, Path: cp, Message: "column name must not be empty"})
				continue
			}
			if _, dup := cols[c]; dup {
				issues = append(issues, Issue{Severity: SeverityError, Path: cp, Message: fmt.Sprintf("column %q listed twice", c)})
			}
			cols[c] = struct{}{}
		}
	}
	return issues
}

func validateDateDimension(d DateDimension) []Issue {
	var issues []Issue
	if _, err := calendar.ParseWeekendPolicy(d.Weekend); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "date_dimension.weekend",
			Message:  err.Error() + `; use "sunday_only" or "saturday_sunday"`,
		})
	} else if strings.TrimSpace(d.Weekend) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "date_dimension.weekend",
			Message:  `weekend not set; IsWeekend flags Sundays only. Set "saturday_sunday" to include Saturdays`,
		})
	}
	return issues
}

func validateKeyIndexes(ks []KeyIndex) []Issue {
	var issues []Issue
	names := map[string]struct{}{}
	for i, k := range ks {
		path := fmt.Sprintf("key_indexes[%d]", i)
		if strings.TrimSpace(k.Name) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".name", Message: "name must not be empty"})
		} else if _, dup := names[k.Name]; dup {
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".name", Message: fmt.Sprintf("duplicate key index %q", k.Name)})
		}
		names[k.Name] = struct{}{}

		if strings.TrimSpace(k.Source) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".source", Message: "source must not be empty"})
		}
		if n := len(k.Columns); n < MinKeyColumns || n > MaxKeyColumns {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".columns",
				Message:  fmt.Sprintf("need %d to %d columns, got %d", MinKeyColumns, MaxKeyColumns, n),
			})
		}
	}
	return issues
}

func validateOutput(o Output) []Issue {
	if strings.TrimSpace(o.Target) == "" {
		return []Issue{{
			Severity: SeverityWarning,
			Path:     "output.target",
			Message:  "no output target; files are written to the working directory",
		}}
	}
	return nil
}

// validateOutputNames rejects configs where two produced tables would be
// written to the same file, and so loaded into the same warehouse table.
// Names are compared case-insensitively.
func validateOutputNames(p Pipeline) []Issue {
	var issues []Issue
	owner := map[string]string{}
	claim := func(path, name string) {
		key := strings.ToLower(name)
		if prev, taken := owner[key]; taken {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("output %q is already written by %s", name, prev),
			})
			return
		}
		owner[key] = path
	}

	claim("date_dimension.output", p.DateDimension.OutputName())

	paths := map[string]struct{}{}
	for i, s := range p.Sources {
		if strings.TrimSpace(s.Path) == "" {
			continue
		}
		// Repeated paths are reported by validateSources.
		if _, dup := paths[s.Path]; dup {
			continue
		}
		paths[s.Path] = struct{}{}
		claim(fmt.Sprintf("sources[%d].path", i), p.Output.NormalizedName(s.Path))
	}

	for i, k := range p.KeyIndexes {
		path := fmt.Sprintf("key_indexes[%d].output", i)
		if strings.TrimSpace(k.Output) == "" {
			if strings.TrimSpace(k.Name) == "" {
				continue
			}
			path = fmt.Sprintf("key_indexes[%d].name", i)
		}
		claim(path, k.OutputName())
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue
	kind := strings.TrimSpace(s.Kind)
	if kind == "" {
		return nil
	}
	switch kind {
	case "sqlite", "postgres", "mssql":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q", s.Kind),
		})
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.dsn",
			Message:  "dsn must not be empty when storage.kind is set",
		})
	}
	switch s.LoadMode {
	case "", "replace", "append":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.load_mode",
			Message:  fmt.Sprintf("load_mode must be replace or append, got %q", s.LoadMode),
		})
	}
	return issues
}
