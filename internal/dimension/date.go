package dimension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"stardim/internal/calendar"
	"stardim/internal/extract"
	"stardim/internal/logger"
	"stardim/internal/metrics"
	"stardim/internal/table"
)

// ErrShapeMismatch is returned when sources and date column lists differ in
// length.
var ErrShapeMismatch = errors.New("sources and date column lists differ in length")

// Date dimension column names, in output order.
const (
	DateColumn      = "Date"
	DayOfWeekColumn = "DayOfWeek"
	MonthColumn     = "Month"
	QuarterColumn   = "Quarter"
	YearColumn      = "Year"
	IsWeekendColumn = "IsWeekend"
)

// DateColumns is the column layout of DateDimension.Table.
var DateColumns = []string{IDColumn, DateColumn, DayOfWeekColumn, MonthColumn, QuarterColumn, YearColumn, IsWeekendColumn}

// SourceColumns names a source and the columns in it that hold dates.
type SourceColumns struct {
	Source  string
	Columns []string
}

// Pair zips parallel source and date column lists.
func Pair(sources []string, dateColumns [][]string) ([]SourceColumns, error) {
	if len(sources) != len(dateColumns) {
		return nil, fmt.Errorf("%w: %d sources, %d column lists", ErrShapeMismatch, len(sources), len(dateColumns))
	}
	out := make([]SourceColumns, len(sources))
	for i := range sources {
		out[i] = SourceColumns{Source: sources[i], Columns: append([]string(nil), dateColumns[i]...)}
	}
	return out, nil
}

// DateRow is one calendar day of the date dimension.
type DateRow struct {
	ID        int64
	Date      time.Time
	DayOfWeek string
	Month     int
	Quarter   int
	Year      int
	IsWeekend bool
}

type civil struct {
	y int
	m time.Month
	d int
}

func civilOf(t time.Time) civil {
	y, m, d := t.Date()
	return civil{y, m, d}
}

// DateDimension is a dense, date-ordered set of calendar days. It is
// read-only once built.
type DateDimension struct {
	Rows  []DateRow
	byDay map[civil]int64
}

// BuildDateDimension dedupes dates by calendar day, sorts them ascending and
// numbers them 1..N, deriving every attribute from the date alone.
func BuildDateDimension(dates []time.Time, weekend calendar.WeekendPolicy) *DateDimension {
	seen := make(map[civil]struct{}, len(dates))
	days := make([]time.Time, 0, len(dates))
	for _, t := range dates {
		k := civilOf(t)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		days = append(days, time.Date(k.y, k.m, k.d, 0, 0, 0, 0, time.UTC))
	}
	slices.SortFunc(days, time.Time.Compare)
	days = slices.CompactFunc(days, time.Time.Equal)

	d := &DateDimension{
		Rows:  make([]DateRow, len(days)),
		byDay: make(map[civil]int64, len(days)),
	}
	for i, day := range days {
		id := int64(i + 1)
		d.Rows[i] = DateRow{
			ID:        id,
			Date:      day,
			DayOfWeek: calendar.DayOfWeek(day),
			Month:     int(day.Month()),
			Quarter:   calendar.Quarter(day),
			Year:      day.Year(),
			IsWeekend: weekend.IsWeekend(day),
		}
		d.byDay[civilOf(day)] = id
	}
	return d
}

// Len returns the number of days.
func (d *DateDimension) Len() int { return len(d.Rows) }

// Lookup returns the ID of t's calendar day.
func (d *DateDimension) Lookup(t time.Time) (int64, bool) {
	id, ok := d.byDay[civilOf(t)]
	return id, ok
}

// Table renders the dimension with columns DateColumns.
func (d *DateDimension) Table(name string) *table.Table {
	t := table.New(name, DateColumns, []table.Kind{
		table.KindInt, table.KindDate, table.KindText, table.KindInt, table.KindInt, table.KindInt, table.KindBool,
	})
	t.Rows = make([][]any, len(d.Rows))
	for i, r := range d.Rows {
		t.Rows[i] = []any{r.ID, r.Date, r.DayOfWeek, int64(r.Month), int64(r.Quarter), int64(r.Year), r.IsWeekend}
	}
	return t
}

// DateBuilder builds the date dimension from source extracts.
type DateBuilder struct {
	Loader  extract.TableLoader
	Parser  *calendar.Parser
	Weekend calendar.WeekendPolicy
	Logger  *slog.Logger
	Job     string
}

// Build reads only the listed date columns of every source, gathers their
// non-missing values, and parses every distinct value strictly. A single
// unreadable value fails the whole build with a *calendar.ParseError.
func (b *DateBuilder) Build(ctx context.Context, sources []SourceColumns) (dim *DateDimension, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep(b.Job, "date_dimension", err, time.Since(start)) }()

	values, origin, collected, err := b.collect(ctx, sources)
	if err != nil {
		return nil, err
	}

	parser := b.Parser
	if parser == nil {
		parser = calendar.NewParser(true)
	}
	dates := make([]time.Time, 0, len(values))
	for _, v := range values {
		t, err := parser.ParseValue(v)
		if err != nil {
			return nil, fmt.Errorf("date dimension: %s: %w", origin[len(dates)], err)
		}
		dates = append(dates, t)
	}

	dim = BuildDateDimension(dates, b.Weekend)

	metrics.RecordRow(b.Job, "dates_collected", int64(collected))
	metrics.RecordRow(b.Job, "dimension", int64(dim.Len()))
	logger.OrDiscard(b.Logger).Info("date dimension built",
		"stage", "date_dimension",
		"sources", len(sources),
		"values", collected,
		"distinct", len(values),
		"days", dim.Len(),
		"weekend", b.Weekend.String(),
		"duration", time.Since(start),
	)
	return dim, nil
}

// collect returns the distinct non-missing cell values in first-seen order,
// where each was first seen, and the total number of values gathered.
func (b *DateBuilder) collect(ctx context.Context, sources []SourceColumns) ([]any, []string, int, error) {
	var (
		values []any
		origin []string
		total  int
		seen   = map[string]struct{}{}
	)
	for _, sc := range sources {
		if err := ctx.Err(); err != nil {
			return nil, nil, 0, err
		}
		t, err := b.Loader.Load(ctx, sc.Source, sc.Columns)
		if err != nil {
			return nil, nil, 0, err
		}
		for _, col := range sc.Columns {
			cells, err := t.Column(col)
			if err != nil {
				return nil, nil, 0, err
			}
			for _, v := range cells {
				if v == nil {
					continue
				}
				total++
				key := distinctKey(v)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				values = append(values, v)
				origin = append(origin, sc.Source+"["+col+"]")
			}
		}
	}
	return values, origin, total, nil
}

func distinctKey(v any) string {
	if t, ok := v.(time.Time); ok {
		return "\x00t" + t.Format(time.RFC3339Nano)
	}
	return table.FormatValue(v)
}
