package domain

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Period selects the bucketing used by CountByPeriod.
type Period string

const (
	PeriodMonth   Period = "month"
	PeriodWeekday Period = "weekday"
	PeriodHour    Period = "hour"
)

// UntaggedGroup labels records without a source tag in grouped counts.
const UntaggedGroup = "Untagged"

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case PeriodMonth, PeriodWeekday, PeriodHour:
		return p, nil
	default:
		return "", fmt.Errorf("unknown period %q", s)
	}
}

// SeriesPoint is the count of records in one bucket for one group.
type SeriesPoint struct {
	Bucket string `json:"bucket"`
	Group  string `json:"group"`
	Count  int    `json:"count"`
}

// CountByPeriod counts dated records per bucket per source tag. Every
// (bucket, group) pair is present, with zero counts filled in, ordered by
// bucket then group. Monthly buckets are contiguous from the first to the
// last month observed; weekday and hour buckets cover observed values only.
func CountByPeriod(records []Record, period Period) []SeriesPoint {
	type key struct {
		bucket int
		group  string
	}

	counts := make(map[key]int)
	buckets := make(map[int]struct{})
	groups := make(map[string]struct{})

	for _, r := range records {
		if r.Date == nil {
			continue
		}
		b := bucketIndex(*r.Date, period)
		g := r.Source
		if g == "" {
			g = UntaggedGroup
		}
		counts[key{b, g}]++
		buckets[b] = struct{}{}
		groups[g] = struct{}{}
	}
	if len(buckets) == 0 {
		return []SeriesPoint{}
	}

	order := sortedKeys(buckets)
	if period == PeriodMonth {
		order = contiguous(order[0], order[len(order)-1])
	}
	groupOrder := make([]string, 0, len(groups))
	for g := range groups {
		groupOrder = append(groupOrder, g)
	}
	sort.Strings(groupOrder)

	out := make([]SeriesPoint, 0, len(order)*len(groupOrder))
	for _, b := range order {
		label := bucketLabel(b, period)
		for _, g := range groupOrder {
			out = append(out, SeriesPoint{Bucket: label, Group: g, Count: counts[key{b, g}]})
		}
	}
	return out
}

// bucketIndex maps a time onto a sortable integer for the period:
// months since year 0, weekday with Monday as 0, or hour of day.
func bucketIndex(t time.Time, period Period) int {
	switch period {
	case PeriodWeekday:
		return (int(t.Weekday()) + 6) % 7
	case PeriodHour:
		return t.Hour()
	default:
		return t.Year()*12 + int(t.Month()) - 1
	}
}

func bucketLabel(index int, period Period) string {
	switch period {
	case PeriodWeekday:
		return time.Weekday((index + 1) % 7).String()
	case PeriodHour:
		return strconv.Itoa(index)
	default:
		return fmt.Sprintf("%04d-%02d", index/12, index%12+1)
	}
}

func sortedKeys(m map[int]struct{}) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func contiguous(first, last int) []int {
	out := make([]int, 0, last-first+1)
	for i := first; i <= last; i++ {
		out = append(out, i)
	}
	return out
}

// SourceCount is the number of records carrying one source tag.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// CountBySource totals records per source tag, largest first and by name on
// ties.
func CountBySource(records []Record) []SourceCount {
	counts := make(map[string]int)
	for _, r := range records {
		g := r.Source
		if g == "" {
			g = UntaggedGroup
		}
		counts[g]++
	}
	out := make([]SourceCount, 0, len(counts))
	for s, c := range counts {
		out = append(out, SourceCount{Source: s, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// LocationCount is how often a record name occurs, placed at the first
// coordinates seen for it.
type LocationCount struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Count     int     `json:"count"`
}

// TopLocations returns the n most frequent record names. n <= 0 returns all.
func TopLocations(records []Record, n int) []LocationCount {
	index := make(map[string]int)
	var out []LocationCount
	for _, r := range records {
		if i, ok := index[r.Name]; ok {
			out[i].Count++
			continue
		}
		index[r.Name] = len(out)
		out = append(out, LocationCount{Name: r.Name, Latitude: r.Latitude, Longitude: r.Longitude, Count: 1})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	if out == nil {
		return []LocationCount{}
	}
	return out
}
