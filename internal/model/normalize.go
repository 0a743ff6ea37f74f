package model

import (
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// Value normalization for the serialization boundary. Every nullable or
// driver-typed value coming out of the change source passes through exactly
// one of these before it reaches an Event, so datetime, time, numeric and
// null handling lives in one place.

const (
	isoDateTimeLayout = "2006-01-02T15:04:05"
	clockLayout       = "15:04:05"
)

// ISODateTime renders a database timestamp as an ISO-8601 string without
// zone suffix. Null timestamps become "".
func ISODateTime(v sql.NullTime) string {
	if !v.Valid {
		return ""
	}
	return v.Time.Format(isoDateTimeLayout)
}

// ClockTime renders a time-of-day value as HH:MM:SS. The source column is
// free text; a bare HH:MM is completed with seconds, anything unparseable is
// passed through untouched for the transformer to judge.
func ClockTime(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	s := strings.TrimSpace(v.String)
	if len(s) == 5 {
		if _, err := time.Parse("15:04", s); err == nil {
			return s + ":00"
		}
	}
	return s
}

// String unwraps a nullable string; null becomes "".
func String(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}

// Float unwraps a nullable decimal; null becomes 0.
func Float(v sql.NullFloat64) float64 {
	if !v.Valid {
		return 0
	}
	return v.Float64
}

// IntPtr unwraps a nullable integer key; null becomes nil.
func IntPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// OrderKey renders an order id for file names and idempotency keys;
// zero (absent) becomes "unknown".
func OrderKey(orderID int64) string {
	if orderID == 0 {
		return "unknown"
	}
	return strconv.FormatInt(orderID, 10)
}
