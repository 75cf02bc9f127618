// Command genmock writes a small, reproducible input set for the pipeline:
// schools.csv, towers.csv and a population density GeoTIFF around Nairobi.
// It uses the same record types and encoder as the service so the fixtures
// match what the stages read.
//
// Usage:
//
//	go run ./cmd/genmock -out public -schools 40 -towers 15
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/school-connectivity-etl/internal/adapter/geotiff"
	"github.com/couchcryptid/school-connectivity-etl/internal/csvio"
	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
)

// Area covered by the fixtures.
const (
	minLon, maxLon = 36.60, 37.10
	minLat, maxLat = -1.50, -1.00
	pixelDeg       = 0.01
	noData         = -99999.0
)

var radios = []string{"GSM", "UMTS", "LTE", "LTE", "NR"}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "public", "directory to write the fixtures to")
	nSchools := flag.Int("schools", 40, "number of schools")
	nTowers := flag.Int("towers", 15, "number of towers")
	seed := flag.Uint64("seed", 42, "random seed")
	flag.Parse()

	if *nSchools <= 0 || *nTowers <= 0 {
		flag.Usage()
		return fmt.Errorf("-schools and -towers must be positive")
	}

	// Fixed clock for reproducible tower timestamps.
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))

	towers := genTowers(rng, *nTowers)
	schools := genSchools(rng, *nSchools)

	if err := csvio.Write(filepath.Join(*out, "towers.csv"), ';', towers); err != nil {
		return fmt.Errorf("writing towers: %w", err)
	}
	if err := csvio.Write(filepath.Join(*out, "schools.csv"), ';', schools); err != nil {
		return fmt.Errorf("writing schools: %w", err)
	}

	img := genDensity(rng)
	rasterPath := filepath.Join(*out, "pop_density.tif")
	err := geotiff.WriteFile(rasterPath, img, geotiff.EncodeOptions{
		SampleType:   geotiff.Float32,
		Deflate:      true,
		Predictor:    true,
		RowsPerStrip: 16,
	})
	if err != nil {
		return fmt.Errorf("writing raster: %w", err)
	}

	log.Printf("wrote %d schools, %d towers and a %dx%d raster to %s", len(schools), len(towers), img.Width, img.Height, *out)
	printStats(schools, towers)
	return nil
}

func genTowers(rng *rand.Rand, n int) []domain.Tower {
	now := domain.Now()
	towers := make([]domain.Tower, 0, n+1)
	for i := range n {
		created := now.Add(-time.Duration(rng.IntN(2000)) * 24 * time.Hour)
		towers = append(towers, domain.Tower{
			Radio:         radios[rng.IntN(len(radios))],
			MCC:           "639",
			Net:           strconv.Itoa(2 + rng.IntN(6)),
			Area:          strconv.Itoa(100 + rng.IntN(900)),
			Cell:          strconv.Itoa(10000 + i),
			Unit:          "0",
			Lon:           coord(minLon + rng.Float64()*(maxLon-minLon)),
			Lat:           coord(minLat + rng.Float64()*(maxLat-minLat)),
			Range:         strconv.Itoa(500 + rng.IntN(9500)),
			Samples:       strconv.Itoa(1 + rng.IntN(300)),
			Changeable:    "1",
			Created:       strconv.FormatInt(created.Unix(), 10),
			Updated:       strconv.FormatInt(now.Unix(), 10),
			AverageSignal: "0",
		})
	}
	// One tower the merge stage must skip.
	towers = append(towers, domain.Tower{Radio: "GSM", Cell: "broken", Lat: "", Lon: "36.8"})
	return towers
}

func genSchools(rng *rand.Rand, n int) []domain.School {
	levels := []string{"Primary", "Secondary", "Pre-Primary"}
	schools := make([]domain.School, 0, n)
	for i := range n {
		lat := coord(minLat + rng.Float64()*(maxLat-minLat))
		lon := coord(minLon + rng.Float64()*(maxLon-minLon))
		if i == n-1 {
			// Last school has no usable coordinates.
			lat, lon = "", ""
		}
		schools = append(schools, domain.School{
			Country:          "Kenya",
			ISO2Code:         "KE",
			ISO3Code:         "KEN",
			SchoolID:         fmt.Sprintf("%08x-mock-%04d", rng.Uint32(), i),
			SchoolName:       fmt.Sprintf("Mock %s School %d", levels[i%len(levels)], i+1),
			Admin1ID:         "KE-30",
			Admin2ID:         fmt.Sprintf("KE-30-%02d", 1+rng.IntN(9)),
			EducationLevel:   levels[i%len(levels)],
			Connectivity:     []string{"Yes", "No", "Unknown"}[rng.IntN(3)],
			Latitude:         lat,
			Longitude:        lon,
			SchoolDataSource: "genmock",
		})
	}
	return schools
}

// genDensity builds a density surface peaking over the city centre, with a
// no-data block in the south-east corner.
func genDensity(rng *rand.Rand) geotiff.Image {
	w := int(math.Round((maxLon - minLon) / pixelDeg))
	h := int(math.Round((maxLat - minLat) / pixelDeg))
	centreLon, centreLat := 36.82, -1.29

	values := make([]float64, w*h)
	for row := range h {
		lat := maxLat - (float64(row)+0.5)*pixelDeg
		for col := range w {
			if row >= h-5 && col >= w-5 {
				values[row*w+col] = noData
				continue
			}
			lon := minLon + (float64(col)+0.5)*pixelDeg
			d := domain.Haversine(lat, lon, centreLat, centreLon)
			v := 6000*math.Exp(-d/8) + 50 + rng.Float64()*40
			values[row*w+col] = math.Round(v*10) / 10
		}
	}
	nd := noData
	return geotiff.Image{
		Width:       w,
		Height:      h,
		Values:      values,
		OriginLon:   minLon,
		OriginLat:   maxLat,
		PixelWidth:  pixelDeg,
		PixelHeight: pixelDeg,
		NoData:      &nd,
	}
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func printStats(schools []domain.School, towers []domain.Tower) {
	byRadio := map[string]int{}
	for _, t := range towers {
		byRadio[t.Radio]++
	}
	keys := make([]string, 0, len(byRadio))
	for k := range byRadio {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println("\n=== Towers by radio ===")
	for _, k := range keys {
		fmt.Printf("  %-6s %d\n", k, byRadio[k])
	}

	located := 0
	for _, s := range schools {
		if _, ok := domain.ParsePoint(s.Latitude, s.Longitude); ok {
			located++
		}
	}
	fmt.Printf("\n=== Schools ===\n  located %d of %d\n", located, len(schools))
}
