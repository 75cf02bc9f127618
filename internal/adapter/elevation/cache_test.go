package elevation

import (
	"context"
	"errors"
	"testing"

	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
	"github.com/couchcryptid/school-connectivity-etl/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock for cache tests ---

type countingProvider struct {
	calls  int
	result []float64
	err    error
}

func (m *countingProvider) Elevations(_ context.Context, _ []domain.Point) ([]float64, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

var profilePoints = []domain.Point{{Lat: -1.2921, Lon: 36.8219}, {Lat: -1.30, Lon: 36.80}}

// --- CachedProvider tests ---

func TestCachedProvider_CacheHit(t *testing.T) {
	inner := &countingProvider{result: []float64{1661, 1650}}
	metrics := observability.NewMetricsForTesting()
	cached, err := NewCachedProvider(inner, 10, metrics)
	require.NoError(t, err)

	r1, err := cached.Elevations(context.Background(), profilePoints)
	require.NoError(t, err)
	r2, err := cached.Elevations(context.Background(), profilePoints)
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, 1, inner.calls, "should only call inner once")
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.ElevationCache.WithLabelValues("hit")), 0.0001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.ElevationCache.WithLabelValues("miss")), 0.0001)
}

func TestCachedProvider_DifferentPointsMiss(t *testing.T) {
	inner := &countingProvider{result: []float64{1, 2}}
	cached, err := NewCachedProvider(inner, 10, observability.NewMetricsForTesting())
	require.NoError(t, err)

	_, _ = cached.Elevations(context.Background(), profilePoints)
	_, _ = cached.Elevations(context.Background(), []domain.Point{{Lat: 5, Lon: 5}, {Lat: 6, Lon: 6}})

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 2, cached.Len())
}

func TestCachedProvider_ErrorsNotCached(t *testing.T) {
	inner := &countingProvider{err: errors.New("quota")}
	cached, err := NewCachedProvider(inner, 10, observability.NewMetricsForTesting())
	require.NoError(t, err)

	_, err = cached.Elevations(context.Background(), profilePoints)
	require.Error(t, err)
	_, err = cached.Elevations(context.Background(), profilePoints)
	require.Error(t, err)

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 0, cached.Len())
}

func TestCachedProvider_Eviction(t *testing.T) {
	inner := &countingProvider{result: []float64{1}}
	cached, err := NewCachedProvider(inner, 1, observability.NewMetricsForTesting())
	require.NoError(t, err)

	a := []domain.Point{{Lat: 1, Lon: 1}}
	b := []domain.Point{{Lat: 2, Lon: 2}}
	_, _ = cached.Elevations(context.Background(), a)
	_, _ = cached.Elevations(context.Background(), b)
	_, _ = cached.Elevations(context.Background(), a)

	assert.Equal(t, 3, inner.calls, "a should have been evicted by b")
}

func TestCachedProvider_ReturnedSliceIsCopy(t *testing.T) {
	inner := &countingProvider{result: []float64{10, 20}}
	cached, err := NewCachedProvider(inner, 10, observability.NewMetricsForTesting())
	require.NoError(t, err)

	first, _ := cached.Elevations(context.Background(), profilePoints)
	first[0] = -1

	second, _ := cached.Elevations(context.Background(), profilePoints)
	assert.Equal(t, []float64{10, 20}, second)
}

func TestNewCachedProvider_InvalidSize(t *testing.T) {
	_, err := NewCachedProvider(&countingProvider{}, 0, observability.NewMetricsForTesting())
	require.Error(t, err)
}

func TestCacheKey_RoundsToMicrodegrees(t *testing.T) {
	a := cacheKey([]domain.Point{{Lat: 1.00000001, Lon: 2}})
	b := cacheKey([]domain.Point{{Lat: 1.00000002, Lon: 2}})
	assert.Equal(t, a, b)
	assert.Equal(t, "1.000000,2.000000", a)
}
