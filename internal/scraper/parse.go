package scraper

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04",
	"2006/01/02",
	"02 Jan 2006",
}

// parseHours converts a scraped effort cell to hours. Unparsable values
// default to zero rather than failing the row.
func parseHours(raw string) decimal.Decimal {
	s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "h"))
	if s == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d
	}
	return decimal.Zero
}

// parseWhen converts a scraped date cell to a timestamp. Unparsable values
// yield nil; the current time is never substituted for a real value.
func parseWhen(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 1e11 {
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
