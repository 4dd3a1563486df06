package domain

import (
	"context"
	"log/slog"
	"maps"
	"strconv"
	"strings"
)

// FillCoordinates forward-geocodes rows whose latitude or longitude cell is
// empty, for definitions that enable geocoding. It returns a table with
// copied rows so cached tables are never mutated, and the number of rows
// filled. Rows that cannot be geocoded are left as they are; Normalize then
// drops them as invalid.
func FillCoordinates(ctx context.Context, table RawTable, def SourceDefinition, geocoder Geocoder, logger *slog.Logger) (RawTable, int) {
	if geocoder == nil || def.Geocode == nil {
		return table, 0
	}

	latCol, lonCol := def.Fields.Latitude, def.Fields.Longitude
	queryCol := def.geocodeColumn()

	out := RawTable{Columns: table.Columns, Rows: make([]RawRow, len(table.Rows))}
	filled := 0
	for i, row := range table.Rows {
		out.Rows[i] = row
		if strings.TrimSpace(row[latCol]) != "" && strings.TrimSpace(row[lonCol]) != "" {
			continue
		}
		query := strings.TrimSpace(row[queryCol])
		if query == "" {
			continue
		}

		result, err := geocoder.ForwardGeocode(ctx, query, def.Geocode.Region)
		if err != nil {
			logger.Warn("forward geocoding failed",
				"source", def.Name,
				"row", i,
				"query", query,
				"error", err,
			)
			continue
		}
		if result.Lat == 0 && result.Lon == 0 {
			continue
		}

		filledRow := maps.Clone(row)
		filledRow[latCol] = strconv.FormatFloat(result.Lat, 'f', -1, 64)
		filledRow[lonCol] = strconv.FormatFloat(result.Lon, 'f', -1, 64)
		out.Rows[i] = filledRow
		filled++
	}
	return out, filled
}
