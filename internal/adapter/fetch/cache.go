package fetch

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/civic-map-etl/internal/domain"
	"github.com/couchcryptid/civic-map-etl/internal/observability"
)

// CachedDownloader memoizes successful downloads by URL for a fixed TTL.
// Concurrent misses for the same URL share one download.
// A shared download is detached from the caller that started it and bounded
// by timeout instead, so one caller giving up does not fail the others.
type CachedDownloader struct {
	inner   Downloader
	cache   *expirable.LRU[string, []byte]
	group   singleflight.Group
	timeout time.Duration
	metrics *observability.Metrics
}

// NewCachedDownloader creates a cache decorator around a downloader.
// ttl must be positive. A non-positive timeout leaves shared downloads
// unbounded.
func NewCachedDownloader(inner Downloader, size int, ttl, timeout time.Duration, metrics *observability.Metrics) *CachedDownloader {
	return &CachedDownloader{
		inner:   inner,
		cache:   expirable.NewLRU[string, []byte](size, nil, ttl),
		timeout: timeout,
		metrics: metrics,
	}
}

func (c *CachedDownloader) Download(ctx context.Context, def domain.SourceDefinition) ([]byte, error) {
	if body, ok := c.cache.Get(def.URL); ok {
		c.metrics.FetchCache.WithLabelValues("hit").Inc()
		return body, nil
	}
	c.metrics.FetchCache.WithLabelValues("miss").Inc()

	ch := c.group.DoChan(def.URL, func() (any, error) {
		if body, ok := c.cache.Get(def.URL); ok {
			return body, nil
		}
		dctx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(dctx, c.timeout)
			defer cancel()
		}
		body, err := c.inner.Download(dctx, def)
		if err != nil {
			return nil, err
		}
		c.cache.Add(def.URL, body)
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, &domain.FetchError{Source: def.Name, URL: def.URL, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Purge drops every cached payload.
func (c *CachedDownloader) Purge() {
	c.cache.Purge()
}
