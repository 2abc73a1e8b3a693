package calendar

import (
	"fmt"
	"strings"
	"time"
)

// DayOfWeek returns the English weekday name.
func DayOfWeek(t time.Time) string { return t.Weekday().String() }

// Quarter returns 1..4.
func Quarter(t time.Time) int { return (int(t.Month())-1)/3 + 1 }

// WeekendPolicy decides which weekdays are flagged IsWeekend.
type WeekendPolicy int

const (
	// WeekendSundayOnly flags Sunday only. This matches the historical
	// Dim_Time_keys.csv extracts, which tested day index > 5 with Monday as 0.
	WeekendSundayOnly WeekendPolicy = iota
	// WeekendSaturdaySunday flags Saturday and Sunday.
	WeekendSaturdaySunday
)

// ParseWeekendPolicy accepts "", "sunday_only" and "saturday_sunday".
func ParseWeekendPolicy(s string) (WeekendPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sunday_only", "sunday":
		return WeekendSundayOnly, nil
	case "saturday_sunday", "sat_sun":
		return WeekendSaturdaySunday, nil
	default:
		return WeekendSundayOnly, fmt.Errorf("unknown weekend policy %q", s)
	}
}

func (w WeekendPolicy) String() string {
	if w == WeekendSaturdaySunday {
		return "saturday_sunday"
	}
	return "sunday_only"
}

// IsWeekend reports whether t falls on a weekend day under w.
func (w WeekendPolicy) IsWeekend(t time.Time) bool {
	switch t.Weekday() {
	case time.Sunday:
		return true
	case time.Saturday:
		return w == WeekendSaturdaySunday
	default:
		return false
	}
}
