package elevation

import (
	"context"
	"fmt"
	"strings"

	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
	"github.com/couchcryptid/school-connectivity-etl/internal/observability"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedProvider wraps an ElevationProvider with an in-memory LRU cache keyed
// on the sampled point list. Schools sharing a tower at the same spot, and
// re-runs of the stage, hit the cache instead of the API.
type CachedProvider struct {
	inner   domain.ElevationProvider
	cache   *lru.Cache[string, []float64]
	metrics *observability.Metrics
}

// NewCachedProvider creates a cache decorator around a provider.
func NewCachedProvider(inner domain.ElevationProvider, maxEntries int, metrics *observability.Metrics) (*CachedProvider, error) {
	cache, err := lru.New[string, []float64](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create elevation cache: %w", err)
	}
	return &CachedProvider{inner: inner, cache: cache, metrics: metrics}, nil
}

func (c *CachedProvider) Elevations(ctx context.Context, points []domain.Point) ([]float64, error) {
	key := cacheKey(points)
	if v, ok := c.cache.Get(key); ok {
		c.metrics.ElevationCache.WithLabelValues("hit").Inc()
		return append([]float64(nil), v...), nil
	}
	c.metrics.ElevationCache.WithLabelValues("miss").Inc()

	v, err := c.inner.Elevations(ctx, points)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, append([]float64(nil), v...))
	return v, nil
}

// Len reports the number of cached profiles.
func (c *CachedProvider) Len() int {
	return c.cache.Len()
}

func cacheKey(points []domain.Point) string {
	var b strings.Builder
	for i, p := range points {
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "%.6f,%.6f", p.Lat, p.Lon)
	}
	return b.String()
}
