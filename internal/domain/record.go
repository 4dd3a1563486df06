package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// AllSources is the source selector value that disables source filtering.
const AllSources = "All"

// Record is one normalized row in the unified schema.
type Record struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Date        *time.Time `json:"date,omitempty"`
	Source      string     `json:"source,omitempty"`
}

// Link reports whether the description is a URL the presentation layer
// should render as a hyperlink.
func (r Record) Link() bool {
	d := strings.ToLower(strings.TrimSpace(r.Description))
	return strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://")
}

// recordID produces a deterministic ID from the record's identifying fields.
func recordID(r Record) string {
	date := ""
	if r.Date != nil {
		date = r.Date.UTC().Format(time.RFC3339)
	}
	input := fmt.Sprintf("%s|%s|%.6f|%.6f|%s", r.Source, r.Name, r.Latitude, r.Longitude, date)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:8])
}
