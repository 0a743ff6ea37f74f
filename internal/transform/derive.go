package transform

import (
	"strings"
	"time"
	"unicode"

	"amese/labsync/internal/model"
)

// Fallback timezone for orders with no usable timestamp anywhere.
var zoneUTCMinus3 = time.FixedZone("-03:00", -3*60*60)

// placeholderTestCode stands in for an empty local test code. It never
// resolves in the catalog, so the item fails transformation instead of going
// out with a blank id.
const placeholderTestCode = "SEM-CODIGO"

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// splitTimestamp parses an ISO-ish timestamp into (YYYY-MM-DD, HH:MM:SS).
// A date-only value yields midnight. ok is false when nothing parses.
func splitTimestamp(s string) (date, clock string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), t.Format("15:04:05"), true
		}
	}
	return "", "", false
}

// chooseDateTime picks the batch/order date and time.
//
// Three tiers: the header's entry date + time (a bare HH:MM is completed
// with seconds), then the first item with a parseable entry timestamp, then
// now in UTC-3. Header timestamps are occasionally null for legacy orders.
func chooseDateTime(header model.OrderHeader, items []model.Item, now func() time.Time) (string, string) {
	if d, _, ok := splitTimestamp(header.EntryDate); ok {
		clock := strings.TrimSpace(header.EntryTime)
		if len(clock) == 5 {
			clock += ":00"
		}
		if _, err := time.Parse("15:04:05", clock); err == nil {
			return d, clock
		}
	}

	for _, it := range items {
		if d, t, ok := splitTimestamp(it.EntryDate); ok {
			return d, t
		}
	}

	n := now().In(zoneUTCMinus3)
	return n.Format("2006-01-02"), n.Format("15:04:05")
}

// onlyDigits strips everything but digits; used for document ids.
func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeGender maps the source's sex field to "M"/"F". The two
// written-out forms are accepted as synonyms; blank or unrecognized values
// fall back to the configured default. Returns "" when neither applies.
func normalizeGender(raw, fallback string) string {
	g := strings.ToUpper(strings.TrimSpace(raw))
	switch g {
	case "MASCULINO":
		g = "M"
	case "FEMININO":
		g = "F"
	}
	if g != "M" && g != "F" {
		g = strings.ToUpper(strings.TrimSpace(fallback))
	}
	if g != "M" && g != "F" {
		return ""
	}
	return g
}

// mapTestCode applies the local-code override table. Empty codes become the
// placeholder; unmapped codes pass through unchanged.
func mapTestCode(overrides map[string]string, localCode string) string {
	code := strings.TrimSpace(localCode)
	if code == "" {
		return placeholderTestCode
	}
	if overrides != nil {
		if mapped, ok := overrides[strings.ToUpper(code)]; ok && mapped != "" {
			return mapped
		}
	}
	return code
}
