package mapbox

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/civic-map-etl/internal/domain"
)

// --- mock for cache tests ---

type countingGeocoder struct {
	calls  int
	result domain.GeocodingResult
	err    error
}

func (m *countingGeocoder) ForwardGeocode(_ context.Context, _, _ string) (domain.GeocodingResult, error) {
	m.calls++
	return m.result, m.err
}

func newCached(t *testing.T, inner domain.Geocoder, size int) *CachedGeocoder {
	t.Helper()
	cached, err := NewCachedGeocoder(inner, size, testMetrics())
	require.NoError(t, err)
	return cached
}

// --- CachedGeocoder tests ---

func TestCachedGeocoder_CacheHit(t *testing.T) {
	inner := &countingGeocoder{
		result: domain.GeocodingResult{Lat: 32.79, Lon: -79.87, PlaceName: "Shem Creek Park", FormattedAddress: "Shem Creek Park, SC"},
	}
	cached := newCached(t, inner, 10)

	r1, err := cached.ForwardGeocode(context.Background(), "Shem Creek Park", "SC")
	require.NoError(t, err)
	assert.Equal(t, "Shem Creek Park", r1.PlaceName)

	r2, err := cached.ForwardGeocode(context.Background(), "Shem Creek Park", "SC")
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	assert.Equal(t, 1, inner.calls, "should only call inner once")
	assert.InDelta(t, 1, testutil.ToFloat64(cached.metrics.GeocodeCache.WithLabelValues("hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(cached.metrics.GeocodeCache.WithLabelValues("miss")), 0)
}

func TestCachedGeocoder_DifferentKeysMiss(t *testing.T) {
	inner := &countingGeocoder{
		result: domain.GeocodingResult{PlaceName: "Place", FormattedAddress: "Place, SC"},
	}
	cached := newCached(t, inner, 10)

	_, _ = cached.ForwardGeocode(context.Background(), "Shem Creek Park", "SC")
	_, _ = cached.ForwardGeocode(context.Background(), "Shem Creek Park", "GA")
	_, _ = cached.ForwardGeocode(context.Background(), "Pitt Street", "SC")

	assert.Equal(t, 3, inner.calls)
}

func TestCachedGeocoder_EmptyResultNotCached(t *testing.T) {
	inner := &countingGeocoder{}
	cached := newCached(t, inner, 10)

	_, _ = cached.ForwardGeocode(context.Background(), "Nowhere", "")
	_, _ = cached.ForwardGeocode(context.Background(), "Nowhere", "")

	assert.Equal(t, 2, inner.calls)
}

func TestCachedGeocoder_ErrorNotCached(t *testing.T) {
	inner := &countingGeocoder{err: errors.New("rate limited")}
	cached := newCached(t, inner, 10)

	_, err := cached.ForwardGeocode(context.Background(), "Shem Creek Park", "SC")
	require.Error(t, err)
	_, err = cached.ForwardGeocode(context.Background(), "Shem Creek Park", "SC")
	require.Error(t, err)

	assert.Equal(t, 2, inner.calls)
}

func TestCachedGeocoder_Eviction(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{FormattedAddress: "x"}}
	cached := newCached(t, inner, 2)

	_, _ = cached.ForwardGeocode(context.Background(), "a", "")
	_, _ = cached.ForwardGeocode(context.Background(), "b", "")
	_, _ = cached.ForwardGeocode(context.Background(), "a", "") // promotes "a"
	_, _ = cached.ForwardGeocode(context.Background(), "c", "") // evicts "b"
	require.Equal(t, 3, inner.calls)

	_, _ = cached.ForwardGeocode(context.Background(), "a", "")
	assert.Equal(t, 3, inner.calls, "a was accessed recently, should not be evicted")

	_, _ = cached.ForwardGeocode(context.Background(), "b", "")
	assert.Equal(t, 4, inner.calls, "b should have been evicted")
}

func TestNewCachedGeocoder_InvalidSize(t *testing.T) {
	_, err := NewCachedGeocoder(&countingGeocoder{}, 0, testMetrics())
	assert.Error(t, err)
}
