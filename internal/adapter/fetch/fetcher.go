package fetch

import (
	"context"
	"fmt"

	"github.com/couchcryptid/civic-map-etl/internal/domain"
)

// Downloader retrieves the raw payload for a source.
type Downloader interface {
	Download(ctx context.Context, def domain.SourceDefinition) ([]byte, error)
}

// Fetcher downloads a source and decodes it into a raw table.
type Fetcher struct {
	downloader Downloader
}

// NewFetcher creates a Fetcher on top of a downloader.
func NewFetcher(d Downloader) *Fetcher {
	return &Fetcher{downloader: d}
}

// Fetch returns the source's raw table. Download and decode failures are
// both reported as *domain.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, def domain.SourceDefinition) (domain.RawTable, error) {
	body, err := f.downloader.Download(ctx, def)
	if err != nil {
		return domain.RawTable{}, err
	}
	table, err := Decode(def, body)
	if err != nil {
		return domain.RawTable{}, &domain.FetchError{
			Source: def.Name,
			URL:    def.URL,
			Err:    fmt.Errorf("decode %s payload: %w", def.Format, err),
		}
	}
	return table, nil
}
