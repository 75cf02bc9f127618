package http

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
)

// schoolFeatures renders one Point per located school and, for schools
// matched to a tower, a LineString from school to tower. Rows without
// parseable school coordinates are left out.
func schoolFeatures(rows []domain.PopulationRecord) (*geojson.FeatureCollection, error) {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(rows))}
	for _, row := range rows {
		school, ok := domain.ParsePoint(row.Latitude, row.Longitude)
		if !ok {
			continue
		}
		pt, err := geom.NewPoint(geom.XY).SetCoords(geom.Coord{school.Lon, school.Lat})
		if err != nil {
			return nil, err
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       row.SchoolID,
			Geometry: pt,
			Properties: map[string]any{
				"kind":               "school",
				"school_id_giga":     row.SchoolID,
				"school_name":        row.SchoolName,
				"country":            row.Country,
				"connectivity":       row.Connectivity,
				"radio":              row.Radio,
				"distance_km":        row.DistanceKm,
				"elevation_profile":  row.ElevationProfile,
				"population_density": row.PopulationDensity,
			},
		})

		tower, ok := domain.ParsePoint(row.TowerLat, row.TowerLon)
		if !ok {
			continue
		}
		line, err := geom.NewLineString(geom.XY).SetCoords([]geom.Coord{
			{school.Lon, school.Lat},
			{tower.Lon, tower.Lat},
		})
		if err != nil {
			return nil, err
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       row.SchoolID + "-tower",
			Geometry: line,
			Properties: map[string]any{
				"kind":           "link",
				"school_id_giga": row.SchoolID,
				"radio":          row.Radio,
				"range":          row.Range,
				"distance_km":    row.DistanceKm,
			},
		})
	}
	return fc, nil
}
