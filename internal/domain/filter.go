package domain

import (
	"strings"
	"time"
)

// Aggregate concatenates normalized tables, preserving the order of the
// tables and of the rows within each table.
func Aggregate(tables ...[]Record) []Record {
	n := 0
	for _, t := range tables {
		n += len(t)
	}
	out := make([]Record, 0, n)
	for _, t := range tables {
		out = append(out, t...)
	}
	return out
}

// FilterByText keeps records whose name or description contains query,
// ignoring case. An empty query returns records unchanged.
func FilterByText(records []Record, query string) []Record {
	if query == "" {
		return records
	}
	q := strings.ToLower(query)
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if strings.Contains(strings.ToLower(r.Name), q) || strings.Contains(strings.ToLower(r.Description), q) {
			out = append(out, r)
		}
	}
	return out
}

// FilterByRecency keeps records dated strictly after now minus windowDays
// calendar days. Records without a date are excluded.
func FilterByRecency(records []Record, windowDays int, now time.Time) []Record {
	cutoff := now.AddDate(0, 0, -windowDays)
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Date != nil && r.Date.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// FilterBySource keeps records tagged with source. AllSources returns
// records unchanged.
func FilterBySource(records []Record, source string) []Record {
	if source == AllSources {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Source == source {
			out = append(out, r)
		}
	}
	return out
}

// FilterByDateRange keeps records dated within [from, to]. A zero bound is
// open; with both bounds zero records are returned unchanged. Records without
// a date are excluded whenever a bound is set.
func FilterByDateRange(records []Record, from, to time.Time) []Record {
	if from.IsZero() && to.IsZero() {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Date == nil {
			continue
		}
		if !from.IsZero() && r.Date.Before(from) {
			continue
		}
		if !to.IsZero() && r.Date.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}
