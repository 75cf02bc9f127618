package domain

import (
	"context"
	"errors"
)

// ErrNoData is returned by a DensitySampler when the raster holds its
// no-data sentinel at the requested location.
var ErrNoData = errors.New("no data at location")

// ElevationProvider looks up ground elevation in metres for a set of points.
// The result has one value per point, in the same order.
type ElevationProvider interface {
	Elevations(ctx context.Context, points []Point) ([]float64, error)
}

// DensitySampler reads population density at a coordinate.
type DensitySampler interface {
	DensityAt(lat, lon float64) (float64, error)
}

// Advisor sends a prompt to a language model and returns its text reply.
type Advisor interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
