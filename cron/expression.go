/*
WEFT
github.com/weftlabs/weft
*/

// Package cron provides five-field cron expression parsing, next-fire
// computation at minute granularity in UTC, and a scheduler that
// dispatches due jobs onto a task pool.
package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrSyntax reports an expression that failed to parse. Errors
	// returned by Parse wrap it.
	ErrSyntax = errors.New("cron: invalid expression")

	// ErrUnsatisfiable reports an expression with no matching instant
	// within the search horizon (for example a February 30th).
	ErrUnsatisfiable = errors.New("cron: no matching time within search horizon")
)

// searchHorizon bounds the next-fire scan to two years worth of
// minute steps.
const searchHorizon = 2 * 365 * 24 * 60

// Expression is a compiled five-field cron expression. The field sets
// are fully resolved at parse time; day-of-week values are always in
// 0..6 with Sunday as 0, the 7 alias never survives parsing.
type Expression struct {
	source  string
	minutes map[int]struct{}
	hours   map[int]struct{}
	dom     map[int]struct{}
	months  map[int]struct{}
	dow     map[int]struct{}

	// wildcard coverage drives the POSIX day-match rule
	domWild bool
	dowWild bool
}

// Parse compiles an expression of exactly five whitespace-separated
// fields: minute (0-59), hour (0-23), day-of-month (1-31), month
// (1-12, JAN..DEC), day-of-week (0-7, SUN..SAT, 7 meaning Sunday).
// Names resolve case-insensitively. All failures wrap ErrSyntax.
func Parse(source string) (*Expression, error) {
	fields := strings.Fields(source)
	if len(fields) != 5 {
		return nil, fmt.Errorf("%w: expected 5 fields, got %d in %q", ErrSyntax, len(fields), source)
	}

	expr := &Expression{source: source}
	var err error

	if expr.minutes, err = parseField(fields[0], 0, 59, nil, false); err != nil {
		return nil, fmt.Errorf("%w: minute field %q: %v", ErrSyntax, fields[0], err)
	}
	if expr.hours, err = parseField(fields[1], 0, 23, nil, false); err != nil {
		return nil, fmt.Errorf("%w: hour field %q: %v", ErrSyntax, fields[1], err)
	}
	if expr.dom, err = parseField(fields[2], 1, 31, nil, false); err != nil {
		return nil, fmt.Errorf("%w: day-of-month field %q: %v", ErrSyntax, fields[2], err)
	}
	if expr.months, err = parseField(fields[3], 1, 12, monthNames, false); err != nil {
		return nil, fmt.Errorf("%w: month field %q: %v", ErrSyntax, fields[3], err)
	}
	if expr.dow, err = parseField(fields[4], 0, 7, dayOfWeekNames, true); err != nil {
		return nil, fmt.Errorf("%w: day-of-week field %q: %v", ErrSyntax, fields[4], err)
	}

	expr.domWild = len(expr.dom) == 31
	expr.dowWild = len(expr.dow) == 7
	return expr, nil
}

// String returns the source expression text.
func (e *Expression) String() string { return e.source }

// Next returns the first instant at or after from, at whole-minute
// granularity in UTC, that satisfies the expression. from is rounded
// up to the next whole minute when it carries sub-minute precision;
// an instant already on a whole minute may itself be returned.
//
// The search advances by the smallest step that could fix the first
// mismatched field: month mismatches jump to the first instant of the
// next month, day mismatches to the next midnight, hour mismatches to
// the next whole hour, minute mismatches by one minute. It fails with
// ErrUnsatisfiable once the horizon is exhausted.
func (e *Expression) Next(from time.Time) (time.Time, error) {
	t := from.UTC()
	if rounded := t.Truncate(time.Minute); !rounded.Equal(t) {
		t = rounded.Add(time.Minute)
	}

	for i := 0; i < searchHorizon; i++ {
		if _, ok := e.months[int(t.Month())]; !ok {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
			continue
		}
		if !e.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
			continue
		}
		if _, ok := e.hours[t.Hour()]; !ok {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC).Add(time.Hour)
			continue
		}
		if _, ok := e.minutes[t.Minute()]; !ok {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}

	return time.Time{}, ErrUnsatisfiable
}

// dayMatches applies the POSIX day rule: with both day fields
// restricted the day matches when either field matches; with exactly
// one restricted only that one constrains; with both wildcards every
// day matches.
func (e *Expression) dayMatches(t time.Time) bool {
	_, domOK := e.dom[t.Day()]
	_, dowOK := e.dow[int(t.Weekday())]

	switch {
	case e.domWild && e.dowWild:
		return true
	case e.domWild:
		return dowOK
	case e.dowWild:
		return domOK
	default:
		return domOK || dowOK
	}
}
