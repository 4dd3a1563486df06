package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// NormalizeResult holds the records produced from one source along with the
// rows that were dropped on the way.
type NormalizeResult struct {
	Records []Record
	// Skipped holds one error per dropped row (DateParseError, ErrInvalidRow
	// or ErrMalformedInfoBox).
	Skipped []error
	// Excluded counts rows removed by exclusion predicates.
	Excluded int
}

// Normalize maps a raw table onto the unified schema using the source's
// definition. Date cells are parsed in loc (UTC when nil).
//
// A declared origin column missing from the header or from any row fails the
// whole source with a *SchemaMismatchError. Row-level problems drop only the
// offending row and are reported in NormalizeResult.Skipped.
func Normalize(table RawTable, def SourceDefinition, loc *time.Location) (NormalizeResult, error) {
	if loc == nil {
		loc = time.UTC
	}

	cols := def.Columns()
	for _, c := range cols {
		if !table.HasColumn(c) {
			return NormalizeResult{}, &SchemaMismatchError{Source: def.Name, Column: c, Row: -1}
		}
	}

	res := NormalizeResult{Records: make([]Record, 0, len(table.Rows))}
	for i, row := range table.Rows {
		for _, c := range cols {
			if _, ok := row[c]; !ok {
				return NormalizeResult{}, &SchemaMismatchError{Source: def.Name, Column: c, Row: i}
			}
		}

		if excluded(row, def.Exclusions) {
			res.Excluded++
			continue
		}

		rec, err := normalizeRow(row, i, def, loc)
		if err != nil {
			res.Skipped = append(res.Skipped, err)
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func excluded(row RawRow, exclusions []Exclusion) bool {
	for _, ex := range exclusions {
		if ex.Matches(row) {
			return true
		}
	}
	return false
}

func normalizeRow(row RawRow, index int, def SourceDefinition, loc *time.Location) (Record, error) {
	name := cell(row, def.Fields.Name)
	description := cell(row, def.Fields.Description)
	dateValue := cell(row, def.Fields.Date)

	if def.InfoBoxColumn != "" {
		box, err := ParseInfoBox(row[def.InfoBoxColumn])
		if err != nil {
			return Record{}, fmt.Errorf("source %s: row %d: %w", def.Name, index, err)
		}
		name = box.Location
		description = box.CaseNumber
		dateValue = box.Date
	}

	if name == "" {
		return Record{}, fmt.Errorf("source %s: row %d: %w: empty name", def.Name, index, ErrInvalidRow)
	}

	lat, ok := parseCoordinate(cell(row, def.Fields.Latitude), 90)
	if !ok {
		return Record{}, fmt.Errorf("source %s: row %d: %w: latitude %q", def.Name, index, ErrInvalidRow, row[def.Fields.Latitude])
	}
	lon, ok := parseCoordinate(cell(row, def.Fields.Longitude), 180)
	if !ok {
		return Record{}, fmt.Errorf("source %s: row %d: %w: longitude %q", def.Name, index, ErrInvalidRow, row[def.Fields.Longitude])
	}

	rec := Record{
		Name:        name,
		Description: description,
		Latitude:    lat,
		Longitude:   lon,
		Source:      def.Tag,
	}
	if rec.Source == "" {
		rec.Source = cell(row, def.Fields.Source)
	}

	if dateValue != "" {
		t, err := time.ParseInLocation(def.DateLayout, dateValue, loc)
		if err != nil {
			return Record{}, &DateParseError{
				Source: def.Name,
				Row:    index,
				Value:  dateValue,
				Layout: def.DateLayout,
				Err:    err,
			}
		}
		rec.Date = &t
	}

	rec.ID = recordID(rec)
	return rec, nil
}

// cell returns the trimmed value of column, or "" when column is unset.
func cell(row RawRow, column string) string {
	if column == "" {
		return ""
	}
	return strings.TrimSpace(row[column])
}

// parseCoordinate parses a decimal degree and checks it lies within ±limit.
func parseCoordinate(s string, limit float64) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if v < -limit || v > limit {
		return 0, false
	}
	return v, true
}
