package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Format identifies how a source's payload is encoded.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// DefaultGroup is the catalog group a definition belongs to when none is set.
const DefaultGroup = "projects"

// FieldMap names the origin column that feeds each unified field.
// Date and Source are optional; an empty value means the source lacks them.
type FieldMap struct {
	Name        string `koanf:"name"`
	Description string `koanf:"description"`
	Latitude    string `koanf:"latitude"`
	Longitude   string `koanf:"longitude"`
	Date        string `koanf:"date"`
	Source      string `koanf:"source"`
}

// Exclusion drops a row when Column contains any of the listed substrings.
type Exclusion struct {
	Column   string   `koanf:"column"`
	Contains []string `koanf:"contains"`
}

// Matches reports whether the row's value for Column contains any of the
// exclusion substrings. Evaluation stops at the first match.
func (e Exclusion) Matches(row RawRow) bool {
	v := row[e.Column]
	for _, s := range e.Contains {
		if strings.Contains(v, s) {
			return true
		}
	}
	return false
}

// GeocodeOptions enables forward geocoding of rows without coordinates.
// Column defaults to the name field's column.
type GeocodeOptions struct {
	Column string `koanf:"column"`
	Region string `koanf:"region"`
}

// SourceDefinition is the static description of one external dataset.
type SourceDefinition struct {
	Name          string          `koanf:"name"`
	Group         string          `koanf:"group"`
	URL           string          `koanf:"url"`
	Format        Format          `koanf:"format"`
	RecordsPath   string          `koanf:"records_path"`
	Fields        FieldMap        `koanf:"fields"`
	DateLayout    string          `koanf:"date_layout"`
	Tag           string          `koanf:"tag"`
	Exclusions    []Exclusion     `koanf:"exclusions"`
	InfoBoxColumn string          `koanf:"info_box_column"`
	Geocode       *GeocodeOptions `koanf:"geocode"`
}

// Columns returns the origin columns this definition reads, in a stable
// order and without duplicates.
func (d SourceDefinition) Columns() []string {
	candidates := []string{
		d.Fields.Name,
		d.Fields.Description,
		d.Fields.Latitude,
		d.Fields.Longitude,
		d.Fields.Date,
		d.Fields.Source,
	}
	for _, ex := range d.Exclusions {
		candidates = append(candidates, ex.Column)
	}
	candidates = append(candidates, d.InfoBoxColumn)
	if d.Geocode != nil {
		candidates = append(candidates, d.Geocode.Column)
	}

	seen := make(map[string]struct{}, len(candidates))
	cols := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		cols = append(cols, c)
	}
	return cols
}

// GroupOrDefault returns the catalog group, falling back to DefaultGroup.
func (d SourceDefinition) GroupOrDefault() string {
	if d.Group == "" {
		return DefaultGroup
	}
	return d.Group
}

// geocodeColumn returns the column used as the geocoding query.
func (d SourceDefinition) geocodeColumn() string {
	if d.Geocode != nil && d.Geocode.Column != "" {
		return d.Geocode.Column
	}
	return d.Fields.Name
}

// Validate checks that the definition is complete enough to normalize.
func (d SourceDefinition) Validate() error {
	if d.Name == "" {
		return errors.New("source name is required")
	}
	if d.Name == AllSources {
		return fmt.Errorf("source name %q is reserved", AllSources)
	}
	if d.URL == "" {
		return fmt.Errorf("source %q: url is required", d.Name)
	}
	switch d.Format {
	case FormatCSV, FormatJSON, "":
	default:
		return fmt.Errorf("source %q: unsupported format %q", d.Name, d.Format)
	}
	if d.Fields.Latitude == "" || d.Fields.Longitude == "" {
		return fmt.Errorf("source %q: latitude and longitude fields are required", d.Name)
	}
	if d.Fields.Name == "" && d.InfoBoxColumn == "" {
		return fmt.Errorf("source %q: name field or info_box_column is required", d.Name)
	}
	if (d.Fields.Date != "" || d.InfoBoxColumn != "") && d.DateLayout == "" {
		return fmt.Errorf("source %q: date_layout is required when a date is mapped", d.Name)
	}
	for _, ex := range d.Exclusions {
		if ex.Column == "" {
			return fmt.Errorf("source %q: exclusion column is required", d.Name)
		}
		if len(ex.Contains) == 0 {
			return fmt.Errorf("source %q: exclusion on %q lists no substrings", d.Name, ex.Column)
		}
		for _, sub := range ex.Contains {
			if sub == "" {
				return fmt.Errorf("source %q: exclusion on %q has an empty substring", d.Name, ex.Column)
			}
		}
	}
	return nil
}
