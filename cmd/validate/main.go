// Command validate checks the stage outputs in a data directory against each
// other: row counts and order, the nearest-tower join, elevation profile
// shape, density values and the recommendation ranking.
//
// Usage:
//
//	go run ./cmd/validate -data-dir public -samples 3
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/couchcryptid/school-connectivity-etl/internal/csvio"
	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
	"github.com/couchcryptid/school-connectivity-etl/internal/pipeline"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name    string
	errors  []string
	skipped string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataDir := flag.String("data-dir", "public", "directory holding the pipeline inputs and outputs")
	samples := flag.Int("samples", 3, "expected points per elevation profile")
	flag.Parse()

	if *dataDir == "" || *samples < 2 {
		flag.Usage()
		os.Exit(1)
	}
	if code := run(pipeline.DefaultPaths(*dataDir, ""), *samples); code != 0 {
		os.Exit(code)
	}
}

func run(paths pipeline.Paths, samples int) int {
	fmt.Println("=== Pipeline Output Validation ===")
	fmt.Println()

	schools, err := csvio.Read[domain.School](paths.Schools, ';')
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load schools: %v\n", err)
		return 1
	}
	towers, err := csvio.Read[domain.Tower](paths.Towers, ';')
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load towers: %v\n", err)
		return 1
	}

	merged, mergedErr := load[domain.SchoolTower](paths.Merged, ',')
	elevation, elevationErr := load[domain.ElevationRecord](paths.Elevation, ';')
	population, populationErr := load[domain.PopulationRecord](paths.Population, ';')
	ready, readyErr := load[domain.Recommendation](paths.Ready, ';')

	phases := []*phase{
		guard("Merge: nearest-tower join", mergedErr, func(p *phase) { validateMerge(p, schools, towers, merged) }),
		guard("Elevation: profiles", elevationErr, func(p *phase) { validateElevation(p, merged, elevation, samples) }),
		guard("Population: densities", populationErr, func(p *phase) { validatePopulation(p, elevation, population) }),
		guard("Recommendation: ranking", readyErr, func(p *phase) { validateRecommendations(p, population, ready) }),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		switch {
		case p.skipped != "":
			status = "\033[33mSKIP\033[0m (" + p.skipped + ")"
		case !p.passed():
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d schools, %d towers, %d merged, %d elevation, %d population, %d recommendations\n",
		len(schools), len(towers), len(merged), len(elevation), len(population), len(ready))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// errMissing marks a stage output that has not been produced yet.
var errMissing = errors.New("not produced yet")

func load[T any](path string, delimiter rune) ([]T, error) {
	rows, err := csvio.Read[T](path, delimiter)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s %w", filepath.Base(path), errMissing)
	}
	return rows, err
}

func guard(name string, loadErr error, fn func(*phase)) *phase {
	p := &phase{name: name}
	switch {
	case errors.Is(loadErr, errMissing):
		p.skipped = loadErr.Error()
	case loadErr != nil:
		p.errorf("load: %v", loadErr)
	default:
		fn(p)
	}
	return p
}

// ── Phases ──

func validateMerge(p *phase, schools []domain.School, towers []domain.Tower, merged []domain.SchoolTower) {
	if len(merged) != len(schools) {
		p.errorf("row count: %d merged rows for %d schools", len(merged), len(schools))
		return
	}
	located := domain.LocateTowers(towers)
	for i, row := range merged {
		if row.SchoolID != schools[i].SchoolID {
			p.errorf("row %d: school %q out of order, want %q", i, row.SchoolID, schools[i].SchoolID)
			continue
		}
		want := domain.MatchSchool(schools[i], located)
		if row.Error != want.Error {
			p.errorf("row %d (%s): error %q, want %q", i, row.SchoolID, row.Error, want.Error)
			continue
		}
		if want.Error != "" {
			if row.TowerLat != "" || row.DistanceKm != "" {
				p.errorf("row %d (%s): unmatched school carries tower columns", i, row.SchoolID)
			}
			continue
		}
		if row.Cell != want.Cell || row.TowerLat != want.TowerLat || row.TowerLon != want.TowerLon {
			p.errorf("row %d (%s): tower cell %q, want nearest %q", i, row.SchoolID, row.Cell, want.Cell)
		}
		if !closeEnough(row.DistanceKm, want.DistanceKm, 0.001) {
			p.errorf("row %d (%s): distance_km %s, want %s", i, row.SchoolID, row.DistanceKm, want.DistanceKm)
		}
	}
}

func validateElevation(p *phase, merged []domain.SchoolTower, rows []domain.ElevationRecord, samples int) {
	if len(rows) != len(merged) {
		p.errorf("row count: %d elevation rows for %d merged rows", len(rows), len(merged))
		return
	}
	filled := 0
	for i, row := range rows {
		if row.SchoolID != merged[i].SchoolID {
			p.errorf("row %d: school %q out of order, want %q", i, row.SchoolID, merged[i].SchoolID)
			continue
		}
		if row.ElevationProfile == "" {
			continue
		}
		if !row.HasTowerLink() {
			p.errorf("row %d (%s): profile present without a tower link", i, row.SchoolID)
			continue
		}
		var profile []float64
		if err := json.Unmarshal([]byte(row.ElevationProfile), &profile); err != nil {
			p.errorf("row %d (%s): profile %q is not a JSON number array", i, row.SchoolID, row.ElevationProfile)
			continue
		}
		if len(profile) != samples {
			p.errorf("row %d (%s): profile has %d points, want %d", i, row.SchoolID, len(profile), samples)
		}
		filled++
	}
	fmt.Printf("  elevation: %d of %d rows have a profile\n", filled, len(rows))
}

func validatePopulation(p *phase, elevation []domain.ElevationRecord, rows []domain.PopulationRecord) {
	if elevation != nil && len(rows) != len(elevation) {
		p.errorf("row count: %d population rows for %d elevation rows", len(rows), len(elevation))
		return
	}
	filled := 0
	for i, row := range rows {
		if elevation != nil {
			prev := elevation[i]
			if row.SchoolID != prev.SchoolID {
				p.errorf("row %d: school %q out of order, want %q", i, row.SchoolID, prev.SchoolID)
				continue
			}
			if row.ElevationProfile != prev.ElevationProfile {
				p.errorf("row %d (%s): elevation profile changed", i, row.SchoolID)
			}
		}
		if row.PopulationDensity == "" {
			continue
		}
		v, err := strconv.ParseFloat(row.PopulationDensity, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			p.errorf("row %d (%s): density %q is not a finite number", i, row.SchoolID, row.PopulationDensity)
			continue
		}
		filled++
	}
	fmt.Printf("  population: %d of %d rows have a density\n", filled, len(rows))
}

func validateRecommendations(p *phase, population []domain.PopulationRecord, ready []domain.Recommendation) {
	byID := make(map[string]domain.PopulationRecord, len(population))
	for _, row := range population {
		byID[row.SchoolID] = row
	}
	prev := math.Inf(1)
	for i, rec := range ready {
		if population != nil {
			src, ok := byID[rec.SchoolID]
			switch {
			case !ok:
				p.errorf("rank %d: school %q is not in the population output", i+1, rec.SchoolID)
			case src.SchoolName != rec.SchoolName || src.Latitude != rec.Lat || src.Longitude != rec.Lon:
				p.errorf("rank %d (%s): name or coordinates differ from the population output", i+1, rec.SchoolID)
			}
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(rec.ScoreOfImpact), 64)
		if err != nil {
			prev = math.Inf(-1)
			continue
		}
		if score > prev {
			p.errorf("rank %d (%s): score %v above previous %v", i+1, rec.SchoolID, score, prev)
		}
		if score < 0 || score > 100 {
			p.errorf("rank %d (%s): score %v outside 0..100", i+1, rec.SchoolID, score)
		}
		prev = score
	}
}

func closeEnough(got, want string, tol float64) bool {
	g, err1 := strconv.ParseFloat(got, 64)
	w, err2 := strconv.ParseFloat(want, 64)
	return err1 == nil && err2 == nil && math.Abs(g-w) <= tol
}
