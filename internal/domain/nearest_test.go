package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSchoolID  = "sch-001"
	nairobiLat    = "-1.2921"
	nairobiLon    = "36.8219"
	mombasaLat    = "-4.0435"
	mombasaLon    = "39.6682"
	testTowerCell = "4411"
)

func TestHaversine(t *testing.T) {
	t.Run("same point is zero", func(t *testing.T) {
		assert.Equal(t, 0.0, Haversine(10, 20, 10, 20))
	})

	t.Run("one degree of latitude", func(t *testing.T) {
		// 2πR/360
		assert.InDelta(t, 111.195, Haversine(0, 0, 1, 0), 0.001)
	})

	t.Run("nairobi to mombasa", func(t *testing.T) {
		d := Haversine(-1.2921, 36.8219, -4.0435, 39.6682)
		assert.InDelta(t, 440.0, d, 5.0)
	})

	t.Run("symmetric", func(t *testing.T) {
		assert.InDelta(t, Haversine(1, 2, 3, 4), Haversine(3, 4, 1, 2), 1e-9)
	})

	t.Run("NaN propagates", func(t *testing.T) {
		assert.True(t, math.IsNaN(Haversine(math.NaN(), 0, 0, 0)))
	})
}

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12.5", 12.5, true},
		{" -3.25 ", -3.25, true},
		{"", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCoordinate(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocateTowers_SkipsInvalidCoordinates(t *testing.T) {
	towers := []Tower{
		{Cell: "a", Lat: "1", Lon: "1"},
		{Cell: "b", Lat: "", Lon: "1"},
		{Cell: "c", Lat: "1", Lon: "x"},
		{Cell: "d", Lat: "2", Lon: "2"},
	}
	located := LocateTowers(towers)
	require.Len(t, located, 2)
	assert.Equal(t, "a", located[0].Tower.Cell)
	assert.Equal(t, "d", located[1].Tower.Cell)
	assert.Equal(t, Point{Lat: 2, Lon: 2}, located[1].At)
}

func TestNearestTower(t *testing.T) {
	towers := LocateTowers([]Tower{
		{Cell: "far", Lat: mombasaLat, Lon: mombasaLon},
		{Cell: "near", Lat: "-1.30", Lon: "36.80"},
		{Cell: "mid", Lat: "-2.0", Lon: "37.5"},
	})

	tower, dist, ok := NearestTower(Point{Lat: -1.2921, Lon: 36.8219}, towers)
	require.True(t, ok)
	assert.Equal(t, "near", tower.Tower.Cell)
	assert.Less(t, dist, 3.0)
}

func TestNearestTower_TieKeepsFirst(t *testing.T) {
	towers := LocateTowers([]Tower{
		{Cell: "first", Lat: "0", Lon: "1"},
		{Cell: "second", Lat: "0", Lon: "-1"},
	})
	tower, _, ok := NearestTower(Point{}, towers)
	require.True(t, ok)
	assert.Equal(t, "first", tower.Tower.Cell)
}

func TestNearestTower_Empty(t *testing.T) {
	_, _, ok := NearestTower(Point{}, nil)
	assert.False(t, ok)
}

func TestMatchSchool(t *testing.T) {
	school := School{
		SchoolID:   testSchoolID,
		SchoolName: "Kibera Primary",
		Latitude:   nairobiLat,
		Longitude:  nairobiLon,
	}
	towers := LocateTowers([]Tower{{
		Radio: "LTE", MCC: "639", Net: "2", Area: "100", Cell: testTowerCell,
		Lat: "-1.30", Lon: "36.80", Range: "1000", AverageSignal: "-85",
	}})

	row := MatchSchool(school, towers)

	assert.Equal(t, school, row.School)
	assert.Equal(t, "LTE", row.Radio)
	assert.Equal(t, testTowerCell, row.Cell)
	assert.Equal(t, "-1.30", row.TowerLat)
	assert.Equal(t, "36.80", row.TowerLon)
	assert.Equal(t, "1000", row.Range)
	assert.Equal(t, "-85", row.AverageSignal)
	assert.Regexp(t, `^\d+\.\d{3}$`, row.DistanceKm)
	assert.Empty(t, row.Error)
	assert.True(t, row.HasTowerLink())
}

func TestMatchSchool_NoTowers(t *testing.T) {
	school := School{SchoolID: testSchoolID, Latitude: nairobiLat, Longitude: nairobiLon}
	row := MatchSchool(school, nil)

	assert.Equal(t, ErrNoValidTower, row.Error)
	assert.Empty(t, row.DistanceKm)
	assert.Empty(t, row.TowerLat)
	assert.False(t, row.HasTowerLink())
}

func TestMatchSchool_InvalidSchoolCoordinates(t *testing.T) {
	school := School{SchoolID: testSchoolID, Latitude: "n/a", Longitude: nairobiLon}
	towers := LocateTowers([]Tower{{Lat: "0", Lon: "0"}})
	row := MatchSchool(school, towers)

	assert.Equal(t, ErrNoValidTower, row.Error)
}

func TestMatchSchools_PreservesOrder(t *testing.T) {
	schools := []School{
		{SchoolID: "a", Latitude: "0", Longitude: "0"},
		{SchoolID: "b", Latitude: "bad", Longitude: "0"},
		{SchoolID: "c", Latitude: "10", Longitude: "10"},
	}
	towers := []Tower{{Cell: "t0", Lat: "0", Lon: "0.01"}, {Cell: "t10", Lat: "10", Lon: "10.01"}}

	rows := MatchSchools(schools, towers)

	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].SchoolID)
	assert.Equal(t, "t0", rows[0].Cell)
	assert.Equal(t, ErrNoValidTower, rows[1].Error)
	assert.Equal(t, "t10", rows[2].Cell)
	assert.Equal(t, "1.112", rows[0].DistanceKm)
}

func TestInterpolatePoints(t *testing.T) {
	a := Point{Lat: 0, Lon: 0}
	b := Point{Lat: 2, Lon: 4}

	t.Run("three samples", func(t *testing.T) {
		got := InterpolatePoints(a, b, 3)
		assert.Equal(t, []Point{{0, 0}, {1, 2}, {2, 4}}, got)
	})

	t.Run("two samples are the endpoints", func(t *testing.T) {
		assert.Equal(t, []Point{a, b}, InterpolatePoints(a, b, 2))
	})

	t.Run("fewer than two returns start", func(t *testing.T) {
		assert.Equal(t, []Point{a}, InterpolatePoints(a, b, 1))
		assert.Equal(t, []Point{a}, InterpolatePoints(a, b, 0))
	})
}

func TestFormatElevationProfile(t *testing.T) {
	assert.Equal(t, "[12.5,13,-4.25]", FormatElevationProfile([]float64{12.5, 13, -4.25}))
	assert.Equal(t, "[]", FormatElevationProfile(nil))
}

func TestFormatDensity(t *testing.T) {
	assert.Equal(t, "152.75", FormatDensity(152.75))
	assert.Equal(t, "0", FormatDensity(0))
}
