package model

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestISODateTime(t *testing.T) {
	ts := time.Date(2026, 2, 28, 8, 45, 12, 0, time.UTC)
	assert.Equal(t, "2026-02-28T08:45:12", ISODateTime(sql.NullTime{Time: ts, Valid: true}))
	assert.Equal(t, "", ISODateTime(sql.NullTime{}))
}

func TestClockTime(t *testing.T) {
	cases := []struct {
		in   sql.NullString
		want string
	}{
		{sql.NullString{String: "08:45", Valid: true}, "08:45:00"},
		{sql.NullString{String: "08:45:12", Valid: true}, "08:45:12"},
		{sql.NullString{String: " 08:45 ", Valid: true}, "08:45:00"},
		{sql.NullString{String: "8h45m", Valid: true}, "8h45m"}, // passed through for the transformer to judge
		{sql.NullString{}, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClockTime(tc.in), "input %q", tc.in.String)
	}
}

func TestNullUnwrapping(t *testing.T) {
	assert.Equal(t, "x", String(sql.NullString{String: "x", Valid: true}))
	assert.Equal(t, "", String(sql.NullString{}))

	assert.Equal(t, 12.5, Float(sql.NullFloat64{Float64: 12.5, Valid: true}))
	assert.Equal(t, 0.0, Float(sql.NullFloat64{}))

	p := IntPtr(sql.NullInt64{Int64: 42, Valid: true})
	if assert.NotNil(t, p) {
		assert.Equal(t, int64(42), *p)
	}
	assert.Nil(t, IntPtr(sql.NullInt64{}))
}

func TestOrderKey(t *testing.T) {
	assert.Equal(t, "1234", OrderKey(1234))
	assert.Equal(t, "unknown", OrderKey(0))
}
