package cron

import (
	"errors"
	"testing"
	"time"
)

func mustParse(t *testing.T, expr string) *Expression {
	t.Helper()
	e, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q) returned error: %v", expr, err)
	}
	return e
}

func TestParseSyntax(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"every minute", "* * * * *", false},
		{"steps", "*/15 */2 * * *", false},
		{"lists and ranges", "1,2,10-12 * * * *", false},
		{"month names", "0 0 1 JAN-MAR *", false},
		{"weekday names lowercase", "0 0 * * mon-fri", false},
		{"sunday alias", "0 0 * * 7", false},
		{"wrapping range", "50-10 * * * *", false},
		{"minute out of range", "60 * * * *", true},
		{"zero step", "*/0 * * * *", true},
		{"negative step", "*/-2 * * * *", true},
		{"four fields", "* * * *", true},
		{"six fields", "* * * * * *", true},
		{"garbage token", "x * * * *", true},
		{"empty list item", "1,,2 * * * *", true},
		{"range beyond field bounds", "0 0 5-40 * *", true},
		{"unknown month name", "* * * FOO *", true},
		{"weekday eight", "* * * * 8", true},
		{"empty expression", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expr)
			if tt.wantErr {
				if !errors.Is(err, ErrSyntax) {
					t.Errorf("Parse(%q) error = %v, want ErrSyntax", tt.expr, err)
				}
				return
			}
			if err != nil {
				t.Errorf("Parse(%q) returned error: %v", tt.expr, err)
			}
		})
	}
}

func TestParseFieldSets(t *testing.T) {
	tests := []struct {
		name string
		expr string
		get  func(*Expression) map[int]struct{}
		want []int
	}{
		{
			"wildcard step",
			"*/15 * * * *",
			func(e *Expression) map[int]struct{} { return e.minutes },
			[]int{0, 15, 30, 45},
		},
		{
			"step on a single value keeps only that value",
			"5/15 * * * *",
			func(e *Expression) map[int]struct{} { return e.minutes },
			[]int{5},
		},
		{
			"range step",
			"10-30/10 * * * *",
			func(e *Expression) map[int]struct{} { return e.minutes },
			[]int{10, 20, 30},
		},
		{
			"wrapping range unions both ends",
			"55-5 * * * *",
			func(e *Expression) map[int]struct{} { return e.minutes },
			[]int{55, 56, 57, 58, 59, 0, 1, 2, 3, 4, 5},
		},
		{
			"month names mixed case",
			"* * * jan,DEC *",
			func(e *Expression) map[int]struct{} { return e.months },
			[]int{1, 12},
		},
		{
			"sunday alias folds to zero",
			"* * * * 7",
			func(e *Expression) map[int]struct{} { return e.dow },
			[]int{0},
		},
		{
			"range through the sunday alias wraps",
			"* * * * 5-7",
			func(e *Expression) map[int]struct{} { return e.dow },
			[]int{5, 6, 0},
		},
		{
			"full alias range covers the whole week",
			"* * * * 0-7",
			func(e *Expression) map[int]struct{} { return e.dow },
			[]int{0, 1, 2, 3, 4, 5, 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := mustParse(t, tt.expr)
			got := tt.get(e)
			if len(got) != len(tt.want) {
				t.Fatalf("set has %d values, want %d: %v", len(got), len(tt.want), got)
			}
			for _, v := range tt.want {
				if _, ok := got[v]; !ok {
					t.Errorf("set is missing %d", v)
				}
			}
		})
	}
}

func TestWildcardCoverage(t *testing.T) {
	tests := []struct {
		expr    string
		domWild bool
		dowWild bool
	}{
		{"* * * * *", true, true},
		{"* * 1-31 * 0-7", true, true}, // explicit full coverage counts
		{"* * 1 * *", false, true},
		{"* * * * MON", true, false},
		{"* * 1 * MON", false, false},
	}

	for _, tt := range tests {
		e := mustParse(t, tt.expr)
		if e.domWild != tt.domWild || e.dowWild != tt.dowWild {
			t.Errorf("%q: wildcards = (%v, %v), want (%v, %v)",
				tt.expr, e.domWild, e.dowWild, tt.domWild, tt.dowWild)
		}
	}
}

func TestNextFire(t *testing.T) {
	tests := []struct {
		name string
		expr string
		from time.Time
		want time.Time
	}{
		{
			"whole minute that matches is returned as-is",
			"*/15 0 * * *",
			time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"seconds round up to the next slot",
			"*/15 0 * * *",
			time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC),
			time.Date(2025, 1, 1, 0, 15, 0, 0, time.UTC),
		},
		{
			"past the last slot rolls to the next day",
			"*/15 0 * * *",
			time.Date(2025, 1, 1, 0, 45, 1, 0, time.UTC),
			time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			"dom and dow both restricted match on either",
			"0 12 1 * MON",
			time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), // the 1st, a Saturday
			time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			"after the dom hit the dow side takes over",
			"0 12 1 * MON",
			time.Date(2025, 2, 1, 12, 1, 0, 0, time.UTC),
			time.Date(2025, 2, 3, 12, 0, 0, 0, time.UTC), // next Monday
		},
		{
			"dow alone constrains when dom is a wildcard",
			"0 12 * * MON",
			time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 2, 3, 12, 0, 0, 0, time.UTC),
		},
		{
			"month mismatch jumps to the first of a matching month",
			"0 0 1 6 *",
			time.Date(2025, 7, 2, 10, 30, 0, 0, time.UTC),
			time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"hour advance lands on minute zero",
			"0 9 * * *",
			time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC),
			time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		},
		{
			"sub-second precision rounds up to the next minute",
			"* * * * *",
			time.Date(2025, 1, 1, 10, 0, 0, 1, time.UTC),
			time.Date(2025, 1, 1, 10, 1, 0, 0, time.UTC),
		},
		{
			"sunday alias fires on sundays",
			"30 6 * * 7",
			time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), // a Monday
			time.Date(2025, 6, 8, 6, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := mustParse(t, tt.expr)
			got, err := e.Next(tt.from)
			if err != nil {
				t.Fatalf("Next(%v) returned error: %v", tt.from, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next(%v) = %v, want %v", tt.from, got, tt.want)
			}
			if got.Before(tt.from) {
				t.Errorf("Next(%v) = %v is before its reference", tt.from, got)
			}
		})
	}
}

func TestNextFireUnsatisfiable(t *testing.T) {
	e := mustParse(t, "0 0 30 2 *") // February 30th never exists
	_, err := e.Next(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrUnsatisfiable) {
		t.Errorf("Next = %v, want ErrUnsatisfiable", err)
	}
}

func TestExpressionString(t *testing.T) {
	const src = "*/5 8-17 * * mon-fri"
	if got := mustParse(t, src).String(); got != src {
		t.Errorf("String() = %q, want %q", got, src)
	}
}
