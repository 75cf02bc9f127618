package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
)

// ErrInvalidCoordinates is returned by the enrichers when a row's coordinates
// do not parse.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ElevationEnricher adds the school→tower elevation profile to merged rows.
type ElevationEnricher struct {
	provider domain.ElevationProvider
	samples  int
}

// NewElevationEnricher creates an enricher that samples the given number of
// points along each school→tower line.
func NewElevationEnricher(provider domain.ElevationProvider, samples int) *ElevationEnricher {
	return &ElevationEnricher{provider: provider, samples: samples}
}

// Enrich returns the row widened with its elevation profile. Rows without
// both coordinate pairs pass through with an empty profile and no error. On
// error the returned record still carries the row, with an empty profile.
func (e *ElevationEnricher) Enrich(ctx context.Context, row domain.SchoolTower) (domain.ElevationRecord, error) {
	rec := domain.ElevationRecord{SchoolTower: row}
	if !row.HasTowerLink() {
		return rec, nil
	}
	school, ok := domain.ParsePoint(row.Latitude, row.Longitude)
	if !ok {
		return rec, fmt.Errorf("school %w", ErrInvalidCoordinates)
	}
	tower, ok := domain.ParsePoint(row.TowerLat, row.TowerLon)
	if !ok {
		return rec, fmt.Errorf("tower %w", ErrInvalidCoordinates)
	}

	elevations, err := e.provider.Elevations(ctx, domain.InterpolatePoints(school, tower, e.samples))
	if err != nil {
		return rec, err
	}
	rec.ElevationProfile = domain.FormatElevationProfile(elevations)
	return rec, nil
}

// DensityEnricher adds the population density at each school.
type DensityEnricher struct {
	sampler domain.DensitySampler
}

// NewDensityEnricher wraps an open raster.
func NewDensityEnricher(sampler domain.DensitySampler) *DensityEnricher {
	return &DensityEnricher{sampler: sampler}
}

// Enrich returns the row widened with its population density. On error the
// density is left empty.
func (e *DensityEnricher) Enrich(row domain.ElevationRecord) (domain.PopulationRecord, error) {
	rec := domain.PopulationRecord{ElevationRecord: row}
	p, ok := domain.ParsePoint(row.Latitude, row.Longitude)
	if !ok {
		return rec, fmt.Errorf("school %w", ErrInvalidCoordinates)
	}
	v, err := e.sampler.DensityAt(p.Lat, p.Lon)
	if err != nil {
		return rec, err
	}
	rec.PopulationDensity = domain.FormatDensity(v)
	return rec, nil
}
