// Package domain models the school connectivity dataset and the pure
// transformations applied to it by the enrichment stages.
//
// # Data Sources
//
// Schools come from the Giga school location export (one row per school,
// keyed by school_id_giga). Towers come from an OpenCelliD-style cell export
// (radio, mcc, net, area, cell, lon, lat, range, ...). Both are
// semicolon-separated CSV files.
//
// # Record Progression
//
// Each stage widens the record of the previous one:
//
//	School + Tower      →  SchoolTower        (nearest tower, distance_km)
//	SchoolTower         →  ElevationRecord    (+ elevation_profile)
//	ElevationRecord     →  PopulationRecord   (+ population_density)
//	PopulationRecord[]  →  Recommendation[]   (model-ranked top schools)
//
// All values are carried as strings, exactly as they appear in the CSV
// files. Numbers are parsed only where a transformation needs them, and a
// value that does not parse is treated as missing rather than zero.
//
// # Distances
//
// Distances are great-circle distances on a sphere of radius 6371 km
// (haversine), formatted with three decimals in the distance_km column.
//
// # Elevation Profile
//
//	"[112.4,118.9,131.0]"
//
// A JSON array of elevations in metres sampled at evenly spaced points on the
// straight line from school (first) to tower (last).
//
// # Recommendations
//
// The recommendation model receives every qualifying school as a compact JSON
// array and returns a JSON object whose "results" hold the top schools with a
// scoreOfImpact from 0 to 100. Models are inconsistent about quoting numbers,
// so scores and costs are accepted either as JSON strings or numbers.
package domain
