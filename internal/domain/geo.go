package domain

import (
	"math"
	"strconv"
	"strings"
)

// EarthRadiusKm is the mean earth radius used for haversine distances.
const EarthRadiusKm = 6371.0

// Point is a WGS-84 latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Haversine returns the great-circle distance in kilometres between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// ParseCoordinate parses a latitude or longitude column. Empty, non-numeric,
// NaN and infinite values report ok=false.
func ParseCoordinate(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParsePoint parses a latitude/longitude column pair.
func ParsePoint(lat, lon string) (Point, bool) {
	la, ok := ParseCoordinate(lat)
	if !ok {
		return Point{}, false
	}
	lo, ok := ParseCoordinate(lon)
	if !ok {
		return Point{}, false
	}
	return Point{Lat: la, Lon: lo}, true
}

// InterpolatePoints returns n evenly spaced points on the straight line from
// a to b, both ends included. n < 2 returns only a.
func InterpolatePoints(a, b Point, n int) []Point {
	if n < 2 {
		return []Point{a}
	}
	points := make([]Point, n)
	for i := range n {
		f := float64(i) / float64(n-1)
		points[i] = Point{
			Lat: a.Lat + (b.Lat-a.Lat)*f,
			Lon: a.Lon + (b.Lon-a.Lon)*f,
		}
	}
	return points
}

// FormatElevationProfile renders elevations as a JSON array, e.g. "[12.5,13,14.25]".
func FormatElevationProfile(elevations []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, e := range elevations {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(e, 'f', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// FormatDensity renders a raster value the way it is stored in the CSV.
func FormatDensity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
