package domain

import (
	"math"
	"strconv"
)

// ErrNoValidTower is written to the error column when a school cannot be
// matched to any tower.
const ErrNoValidTower = "No valid tower found"

// LocatedTower is a tower whose coordinates have been parsed.
type LocatedTower struct {
	Tower Tower
	At    Point
}

// LocateTowers parses tower coordinates once and drops towers whose
// latitude or longitude is not a number.
func LocateTowers(towers []Tower) []LocatedTower {
	out := make([]LocatedTower, 0, len(towers))
	for _, t := range towers {
		p, ok := ParsePoint(t.Lat, t.Lon)
		if !ok {
			continue
		}
		out = append(out, LocatedTower{Tower: t, At: p})
	}
	return out
}

// NearestTower finds the tower closest to p by exhaustive haversine search.
// On ties the earliest tower wins. ok is false when towers is empty.
func NearestTower(p Point, towers []LocatedTower) (tower LocatedTower, distanceKm float64, ok bool) {
	best := -1
	minDist := math.Inf(1)
	for i := range towers {
		d := Haversine(p.Lat, p.Lon, towers[i].At.Lat, towers[i].At.Lon)
		if d < minDist {
			minDist = d
			best = i
		}
	}
	if best < 0 {
		return LocatedTower{}, 0, false
	}
	return towers[best], minDist, true
}

// MatchSchool joins a school with its nearest tower. A school without usable
// coordinates, or with no tower to match, keeps its own columns and carries
// ErrNoValidTower in the error column.
func MatchSchool(s School, towers []LocatedTower) SchoolTower {
	p, ok := ParsePoint(s.Latitude, s.Longitude)
	if !ok {
		return SchoolTower{School: s, Error: ErrNoValidTower}
	}
	t, dist, ok := NearestTower(p, towers)
	if !ok {
		return SchoolTower{School: s, Error: ErrNoValidTower}
	}
	return SchoolTower{
		School:      s,
		TowerFields: towerFields(t.Tower),
		DistanceKm:  strconv.FormatFloat(dist, 'f', 3, 64),
	}
}

// MatchSchools runs MatchSchool for every school, preserving order.
func MatchSchools(schools []School, towers []Tower) []SchoolTower {
	located := LocateTowers(towers)
	out := make([]SchoolTower, len(schools))
	for i, s := range schools {
		out[i] = MatchSchool(s, located)
	}
	return out
}

func towerFields(t Tower) TowerFields {
	return TowerFields{
		Radio:         t.Radio,
		MCC:           t.MCC,
		Net:           t.Net,
		Area:          t.Area,
		Cell:          t.Cell,
		Unit:          t.Unit,
		TowerLon:      t.Lon,
		TowerLat:      t.Lat,
		Range:         t.Range,
		Samples:       t.Samples,
		Changeable:    t.Changeable,
		Created:       t.Created,
		Updated:       t.Updated,
		AverageSignal: t.AverageSignal,
	}
}

// HasTowerLink reports whether the row has all four coordinate columns
// filled in, i.e. an elevation profile can be attempted.
func (r SchoolTower) HasTowerLink() bool {
	return r.TowerLat != "" && r.TowerLon != "" && r.Latitude != "" && r.Longitude != ""
}
