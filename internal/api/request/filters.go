package request

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TransactionFilters bounds a transaction listing. Zero times are open bounds.
type TransactionFilters struct {
	StartDate time.Time
	EndDate   time.Time
}

// ParseTransactionFilters extracts the date range from query parameters.
//
// Both parameters are optional and accept YYYY-MM-DD or RFC3339. A date-only
// endDate includes the whole day. Returns an error when a value cannot be
// parsed or the range is reversed.
func ParseTransactionFilters(startDateParam, endDateParam string) (TransactionFilters, error) {
	var filters TransactionFilters

	if startDateParam != "" {
		start, _, err := parseFilterTime(startDateParam)
		if err != nil {
			return TransactionFilters{}, fmt.Errorf("invalid startDate format: %w", err)
		}
		filters.StartDate = start
	}

	if endDateParam != "" {
		end, dateOnly, err := parseFilterTime(endDateParam)
		if err != nil {
			return TransactionFilters{}, fmt.Errorf("invalid endDate format: %w", err)
		}
		if dateOnly {
			end = end.AddDate(0, 0, 1).Add(-time.Microsecond)
		}
		filters.EndDate = end
	}

	if !filters.StartDate.IsZero() && !filters.EndDate.IsZero() && filters.EndDate.Before(filters.StartDate) {
		return TransactionFilters{}, fmt.Errorf("invalid date range: endDate is before startDate")
	}
	return filters, nil
}

// ParseBool reads an optional boolean query parameter, false when absent.
func ParseBool(name, param string) (bool, error) {
	if param == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(param))
	if err != nil {
		return false, fmt.Errorf("invalid %s: must be true or false", name)
	}
	return v, nil
}

// parseFilterTime parses date strings for filter parameters.
// Accepts YYYY-MM-DD, RFC3339, and RFC3339 with milliseconds formats.
func parseFilterTime(str string) (t time.Time, dateOnly bool, err error) {
	if t, err := time.Parse("2006-01-02", str); err == nil {
		return t, true, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000Z07:00"} {
		if t, err := time.Parse(layout, str); err == nil {
			return t.UTC(), false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("cannot parse %q as a date or datetime", str)
}
