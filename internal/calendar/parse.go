// Package calendar parses heterogeneous date text into calendar days and
// derives the calendar attributes stored in the date dimension.
package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"stardim/internal/table"
)

// ErrDateParse is returned (wrapped) by the strict parse path.
var ErrDateParse = errors.New("date parse error")

// ParseError carries the offending value.
type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cannot parse %q as a date", e.Value)
	}
	return fmt.Sprintf("cannot parse %q as a date: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDateParse}
	}
	return []error{ErrDateParse, e.Err}
}

// LayoutFallback is reported by Layout for values only the heuristic
// fallback could read.
const LayoutFallback = "heuristic"

// Parser reads date text in mixed formats.
//
// Common layouts are tried first; anything else goes through
// github.com/araddon/dateparse. PreferMonthFirst decides how ambiguous
// slash and dash dates such as 01/02/2016 are read. Location is the zone
// assumed for values without one (UTC when nil). Values that carry their own
// offset keep the calendar day written in the text.
//
// All results are truncated to the calendar day and returned as UTC
// midnight, so two textual forms of the same day compare equal.
type Parser struct {
	PreferMonthFirst bool
	Location         *time.Location
}

// NewParser returns a Parser in UTC.
func NewParser(preferMonthFirst bool) *Parser {
	return &Parser{PreferMonthFirst: preferMonthFirst, Location: time.UTC}
}

var (
	isoLayouts = []string{
		"2006-01-02",
		"2006/1/2",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05.000Z07:00",
	}
	monthFirstLayouts = []string{"1/2/2006", "1/2/2006 15:04:05", "1/2/2006 15:04", "1-2-2006"}
	dayFirstLayouts   = []string{"2/1/2006", "2/1/2006 15:04:05", "2/1/2006 15:04", "2-1-2006"}
	dottedLayouts     = []string{"2.1.2006", "2.1.2006 15:04:05"}
)

func (p *Parser) layouts() [][]string {
	if p.PreferMonthFirst {
		return [][]string{isoLayouts, monthFirstLayouts, dayFirstLayouts, dottedLayouts}
	}
	return [][]string{isoLayouts, dayFirstLayouts, monthFirstLayouts, dottedLayouts}
}

func (p *Parser) location() *time.Location {
	if p == nil || p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// Parse is the strict path: any value that cannot be read as a date yields a
// *ParseError.
func (p *Parser) Parse(s string) (time.Time, error) {
	t, _, err := p.parse(s)
	return t, err
}

// ParseLenient never fails; unreadable values report ok=false.
func (p *Parser) ParseLenient(s string) (time.Time, bool) {
	t, _, err := p.parse(s)
	return t, err == nil
}

// Layout reports which layout read s: a Go layout string for the common
// forms, LayoutFallback for heuristic reads.
func (p *Parser) Layout(s string) (string, bool) {
	_, lay, err := p.parse(s)
	return lay, err == nil
}

// ParseValue is Parse for a table cell. Dates pass through; other values are
// parsed from their text form. nil is an error.
func (p *Parser) ParseValue(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return Day(t), nil
	}
	if v == nil {
		return time.Time{}, &ParseError{Value: ""}
	}
	return p.Parse(table.FormatValue(v))
}

// ParseValueLenient is ParseLenient for a table cell.
func (p *Parser) ParseValueLenient(v any) (time.Time, bool) {
	if v == nil {
		return time.Time{}, false
	}
	t, err := p.ParseValue(v)
	return t, err == nil
}

func (p *Parser) parse(raw string) (time.Time, string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, "", &ParseError{Value: raw}
	}
	loc := p.location()

	for _, group := range p.layouts() {
		for _, lay := range group {
			if t, err := time.ParseInLocation(lay, s, loc); err == nil {
				return Day(t), lay, nil
			}
		}
	}

	t, err := dateparse.ParseIn(s, loc, dateparse.PreferMonthFirst(p.PreferMonthFirst))
	if err != nil {
		return time.Time{}, "", &ParseError{Value: raw, Err: err}
	}
	return Day(t), LayoutFallback, nil
}

// Day truncates t to its calendar day, as UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
