// Package domain models the civic datasets shown on the project and crime
// dashboards and the pipeline that unifies them.
//
// # Data Sources
//
// Each dataset is described by a [SourceDefinition]: where to fetch it, which
// origin columns to keep, which origin column feeds each unified field, and
// which rows to exclude. The published feeds are CSV files (municipal project
// listings, MPW projects, DHEC permits, stormwater projects, new construction
// permits, combined crime logs) plus JSON feeds addressed by a gjson path.
//
// # Unified Schema
//
// Every feed is reduced to a [Record]:
//
//	name         display label, required
//	description  free text; a value starting with http:// or https:// is a link
//	latitude     WGS-84, required, within [-90, 90]
//	longitude    WGS-84, required, within [-180, 180]
//	date         optional, parsed with the source's Go reference layout
//	source       optional tag naming the originating dataset or category
//
// Column order in the origin file is irrelevant: fields are mapped by name.
//
// # Row Policy
//
//	declared column absent from the header    -> SchemaMismatch, whole source dropped
//	declared column absent from a row         -> SchemaMismatch, whole source dropped
//	exclusion substring present in its column -> row excluded (not an error)
//	empty name or unusable coordinates        -> row dropped (ErrInvalidRow)
//	date cell present but unparsable          -> row dropped (DateParseError)
//	date cell empty                           -> record kept with a nil date
//
// Records with a nil date never pass a recency or date-range filter but are
// otherwise shown everywhere.
//
// # Info Boxes
//
// Some incident exports carry a single HTML fragment per row instead of
// separate columns:
//
//	<b>Case Number:</b> 2024-00123<br><b>Date:</b> 05/01/2024 10:15:00 PM<br><b>Location:</b> 100 BLOCK COLEMAN BLVD
//
// [ParseInfoBox] extracts the three labelled values and fails with
// [ErrMalformedInfoBox] when any of them is missing.
//
// # Record IDs
//
// Record IDs are deterministic SHA-256 prefixes of source|name|lat|lon|date so
// the same upstream row always publishes under the same Kafka key.
package domain
