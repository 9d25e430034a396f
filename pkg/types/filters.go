package types

import (
	"strings"
	"time"
)

// DateOnly is the short date form accepted for filter bounds
const DateOnly = "2006-01-02"

// ParseFilters builds Filters from user-supplied strings. Dates are RFC 3339
// or YYYY-MM-DD; a bare date_to covers the whole day. Empty values are unset.
func ParseFilters(dateFrom, dateTo, author string) (Filters, error) {
	var f Filters

	from, err := parseFilterDate("date_from", dateFrom, false)
	if err != nil {
		return Filters{}, err
	}
	to, err := parseFilterDate("date_to", dateTo, true)
	if err != nil {
		return Filters{}, err
	}
	f.DateFrom = from
	f.DateTo = to
	f.Author = strings.TrimSpace(author)

	if err := f.Validate(); err != nil {
		return Filters{}, err
	}
	return f, nil
}

func parseFilterDate(field, value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(DateOnly, value)
	if err != nil {
		return nil, &ValidationError{Field: field, Message: "must be RFC 3339 or YYYY-MM-DD"}
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return &t, nil
}
