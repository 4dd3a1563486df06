package fetch

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/couchcryptid/civic-map-etl/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode parses a payload into a raw table according to the definition's
// format. Only the columns the definition reads are kept in each row; the
// table header still lists every column the payload carries.
func Decode(def domain.SourceDefinition, body []byte) (domain.RawTable, error) {
	switch def.Format {
	case domain.FormatJSON:
		return decodeJSON(def, body)
	case domain.FormatCSV, "":
		return decodeCSV(def, body)
	default:
		return domain.RawTable{}, fmt.Errorf("unsupported format %q", def.Format)
	}
}

func decodeCSV(def domain.SourceDefinition, body []byte) (domain.RawTable, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(body, utf8BOM)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return domain.RawTable{}, errors.New("empty csv payload")
	}
	if err != nil {
		return domain.RawTable{}, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	// index of each wanted column in the header; first occurrence wins
	wanted := make(map[string]int)
	for _, c := range def.Columns() {
		wanted[c] = -1
	}
	for i, h := range header {
		if idx, ok := wanted[h]; ok && idx < 0 {
			wanted[h] = i
		}
	}

	table := domain.RawTable{Columns: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.RawTable{}, fmt.Errorf("read csv row %d: %w", len(table.Rows), err)
		}
		row := make(domain.RawRow, len(wanted))
		for col, idx := range wanted {
			if idx >= 0 && idx < len(rec) {
				row[col] = rec[idx]
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func decodeJSON(def domain.SourceDefinition, body []byte) (domain.RawTable, error) {
	if !gjson.ValidBytes(body) {
		return domain.RawTable{}, errors.New("invalid json payload")
	}

	rows := gjson.ParseBytes(body)
	if def.RecordsPath != "" {
		rows = rows.Get(def.RecordsPath)
	}
	if !rows.IsArray() {
		return domain.RawTable{}, fmt.Errorf("records path %q is not an array", def.RecordsPath)
	}

	cols := def.Columns()
	elems := rows.Array()
	present := make(map[string]bool, len(cols))
	table := domain.RawTable{Rows: make([]domain.RawRow, 0, len(elems))}

	for _, elem := range elems {
		row := make(domain.RawRow, len(cols))
		for _, c := range cols {
			v := elem.Get(c)
			if !v.Exists() {
				continue
			}
			row[c] = v.String()
			present[c] = true
		}
		table.Rows = append(table.Rows, row)
	}

	// JSON has no header: a column is in the header when any row carries it.
	// An empty array has nothing to check.
	for _, c := range cols {
		if present[c] || len(elems) == 0 {
			table.Columns = append(table.Columns, c)
		}
	}
	return table, nil
}
