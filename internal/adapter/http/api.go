package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/civic-map-etl/internal/adapter/export"
	"github.com/couchcryptid/civic-map-etl/internal/domain"
	"github.com/couchcryptid/civic-map-etl/internal/pipeline"
)

const (
	dateParam        = "2006-01-02"
	defaultTopN      = 10
	maxRecencyDays   = 36500
	csvFilename      = "civic-records.csv"
	errUnknownSource = "unknown catalog"
)

// recordView is a Record as the dashboard sees it.
type recordView struct {
	domain.Record
	Link bool `json:"link"`
}

func viewsOf(records []domain.Record) []recordView {
	out := make([]recordView, len(records))
	for i, r := range records {
		out[i] = recordView{Record: r, Link: r.Link()}
	}
	return out
}

type recordsResponse struct {
	Catalog  string                  `json:"catalog"`
	Source   string                  `json:"source"`
	Count    int                     `json:"count"`
	Records  []recordView            `json:"records"`
	Sources  []pipeline.SourceStatus `json:"sources"`
	Warnings []string                `json:"warnings"`
}

// query holds the filter parameters shared by the record endpoints.
type query struct {
	group  string
	source string
	text   string
	from   time.Time
	to     time.Time
}

func (s *Server) parseQuery(r *http.Request) (query, error) {
	v := r.URL.Query()
	q := query{
		group:  v.Get("catalog"),
		source: v.Get("source"),
		text:   v.Get("q"),
	}
	if q.group == "" {
		q.group = domain.DefaultGroup
	}
	if q.source == "" {
		q.source = domain.AllSources
	}

	var err error
	if raw := v.Get("from"); raw != "" {
		if q.from, err = time.ParseInLocation(dateParam, raw, s.opts.Location); err != nil {
			return query{}, fmt.Errorf("invalid from date %q, want YYYY-MM-DD", raw)
		}
	}
	if raw := v.Get("to"); raw != "" {
		to, err := time.ParseInLocation(dateParam, raw, s.opts.Location)
		if err != nil {
			return query{}, fmt.Errorf("invalid to date %q, want YYYY-MM-DD", raw)
		}
		// inclusive of the whole day
		q.to = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if !q.from.IsZero() && !q.to.IsZero() && q.to.Before(q.from) {
		return query{}, errors.New("to date is before from date")
	}
	return q, nil
}

// load fetches the sources selected by q and applies the source and text
// filters. A source naming a definition loads only that definition; any
// other value is matched against record source tags.
func (s *Server) load(r *http.Request, q query) (pipeline.Snapshot, int, error) {
	defs := s.catalog.Group(q.group)
	if len(defs) == 0 {
		return pipeline.Snapshot{}, http.StatusNotFound, fmt.Errorf("%s %q", errUnknownSource, q.group)
	}

	byDefinition := false
	if q.source != domain.AllSources {
		for _, d := range defs {
			if d.Name == q.source {
				defs = []domain.SourceDefinition{d}
				byDefinition = true
				break
			}
		}
	}

	snap, err := s.loader.Load(r.Context(), defs)
	if err != nil {
		s.logger.Warn("load aborted", "catalog", q.group, "error", err)
		return pipeline.Snapshot{}, http.StatusServiceUnavailable, errors.New("load aborted")
	}

	records := snap.Records
	if !byDefinition {
		records = domain.FilterBySource(records, q.source)
	}
	records = domain.FilterByText(records, q.text)
	snap.Records = records
	if snap.Warnings == nil {
		snap.Warnings = []string{}
	}
	return snap, http.StatusOK, nil
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("catalog")
	if group == "" {
		group = domain.DefaultGroup
	}
	if len(s.catalog.Group(group)) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s %q", errUnknownSource, group))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"catalog":  group,
		"catalogs": s.catalog.Groups(),
		"sources":  s.catalog.Names(group),
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, status, err := s.load(r, q)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	records := domain.FilterByDateRange(snap.Records, q.from, q.to)
	writeJSON(w, http.StatusOK, recordsResponse{
		Catalog:  q.group,
		Source:   q.source,
		Count:    len(records),
		Records:  viewsOf(records),
		Sources:  snap.Sources,
		Warnings: snap.Warnings,
	})
}

func (s *Server) handleRecordsCSV(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, status, err := s.load(r, q)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	records := domain.FilterByDateRange(snap.Records, q.from, q.to)

	w.Header().Set("Content-Type", export.FormatCSV.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+csvFilename+`"`)
	w.WriteHeader(http.StatusOK)
	if err := export.WriteCSV(w, records); err != nil {
		s.logger.Warn("csv export failed", "error", err)
	}
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	days := s.opts.RecencyDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRecencyDays {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid days %q, want 1 to %d", raw, maxRecencyDays))
			return
		}
		days = n
	}
	q, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, status, err := s.load(r, q)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	records := domain.FilterByRecency(snap.Records, days, s.clock.Now())
	records = domain.FilterByDateRange(records, q.from, q.to)
	writeJSON(w, http.StatusOK, map[string]any{
		"days":     days,
		"count":    len(records),
		"records":  viewsOf(records),
		"warnings": snap.Warnings,
	})
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, status, err := s.load(r, q)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	records := domain.FilterByDateRange(snap.Records, q.from, q.to)
	if len(snap.Warnings) > 0 {
		w.Header().Set("X-Source-Warnings", strconv.Itoa(len(snap.Warnings)))
	}
	w.Header().Set("Content-Type", export.FormatGeoJSON.ContentType())
	w.WriteHeader(http.StatusOK)
	if err := export.WriteGeoJSON(w, records); err != nil {
		s.logger.Warn("geojson export failed", "error", err)
	}
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	raw := strings.ToLower(r.URL.Query().Get("period"))
	if raw == "" {
		raw = string(domain.PeriodMonth)
	}
	period, err := domain.ParsePeriod(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, status, err := s.load(r, q)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	records := domain.FilterByDateRange(snap.Records, q.from, q.to)
	writeJSON(w, http.StatusOK, map[string]any{
		"period":   period,
		"points":   domain.CountByPeriod(records, period),
		"warnings": snap.Warnings,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, status, err := s.load(r, q)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	records := domain.FilterByDateRange(snap.Records, q.from, q.to)
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     len(records),
		"by_source": domain.CountBySource(records),
		"sources":   snap.Sources,
		"warnings":  snap.Warnings,
	})
}

func (s *Server) handleTopLocations(w http.ResponseWriter, r *http.Request) {
	n := defaultTopN
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid n %q, want a positive integer", raw))
			return
		}
		n = v
	}
	q, err := s.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, status, err := s.load(r, q)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	records := domain.FilterByDateRange(snap.Records, q.from, q.to)
	writeJSON(w, http.StatusOK, map[string]any{
		"locations": domain.TopLocations(records, n),
		"warnings":  snap.Warnings,
	})
}
