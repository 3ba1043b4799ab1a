package cron

import (
	"fmt"
	"strconv"
	"strings"
)

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var dayOfWeekNames = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
}

// parseField expands one cron field into its value set. Comma-separated
// items may be a wildcard, a range (wrapping when start > end), a step
// over a range or single value, a bare integer, or a name from names.
// When foldSeven is set every resolved 7 is stored as 0, so day-of-week
// sets never carry the Sunday alias past parsing.
func parseField(field string, lo, hi int, names map[string]int, foldSeven bool) (map[int]struct{}, error) {
	values := make(map[int]struct{})
	insert := func(v int) {
		if foldSeven && v == 7 {
			v = 0
		}
		values[v] = struct{}{}
	}

	for _, item := range strings.Split(field, ",") {
		switch {
		case item == "*":
			for v := lo; v <= hi; v++ {
				insert(v)
			}

		case strings.Contains(item, "/"):
			base, stepStr, _ := strings.Cut(item, "/")
			step, err := strconv.Atoi(stepStr)
			if err != nil || step < 1 {
				return nil, fmt.Errorf("invalid step %q", stepStr)
			}

			start, end := lo, hi
			if base != "*" {
				if from, to, isRange := strings.Cut(base, "-"); isRange {
					if start, err = resolveValue(from, names); err != nil {
						return nil, err
					}
					if end, err = resolveValue(to, names); err != nil {
						return nil, err
					}
				} else {
					if start, err = resolveValue(base, names); err != nil {
						return nil, err
					}
					end = start
				}
				if start < lo || start > hi || end < lo || end > hi {
					return nil, fmt.Errorf("range %d-%d out of bounds [%d, %d]", start, end, lo, hi)
				}
			}
			for v := start; v <= end; v += step {
				insert(v)
			}

		case strings.Contains(item, "-"):
			from, to, _ := strings.Cut(item, "-")
			start, err := resolveValue(from, names)
			if err != nil {
				return nil, err
			}
			end, err := resolveValue(to, names)
			if err != nil {
				return nil, err
			}
			if start < lo || start > hi || end < lo || end > hi {
				return nil, fmt.Errorf("range %d-%d out of bounds [%d, %d]", start, end, lo, hi)
			}
			if start > end {
				// wrapping range: covers [start, hi] plus [lo, end]
				for v := start; v <= hi; v++ {
					insert(v)
				}
				for v := lo; v <= end; v++ {
					insert(v)
				}
			} else {
				for v := start; v <= end; v++ {
					insert(v)
				}
			}

		default:
			v, err := resolveValue(item, names)
			if err != nil {
				return nil, err
			}
			if v < lo || v > hi {
				return nil, fmt.Errorf("value %d out of range [%d, %d]", v, lo, hi)
			}
			insert(v)
		}
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("field %q yields no values", field)
	}
	return values, nil
}

// resolveValue turns a single token into an integer, consulting names
// case-insensitively before falling back to a strict integer parse.
func resolveValue(token string, names map[string]int) (int, error) {
	if names != nil {
		if v, ok := names[strings.ToUpper(token)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", token)
	}
	return v, nil
}
