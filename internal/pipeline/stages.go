package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/school-connectivity-etl/internal/csvio"
	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
)

// File names inside the data directory.
const (
	SchoolsFile    = "schools.csv"
	TowersFile     = "towers.csv"
	MergedFile     = "schools-with-towers.csv"
	ElevationFile  = "schools-with-towers-and-elevation.csv"
	PopulationFile = "schools-with-towers-elevation-and-population.csv"
	ReadyFile      = "ready-data.csv"
)

// Paths locates every stage input and output.
type Paths struct {
	Schools    string
	Towers     string
	Merged     string
	Elevation  string
	Population string
	Ready      string
	Raster     string
}

// DefaultPaths places every file under dataDir with its standard name.
func DefaultPaths(dataDir, raster string) Paths {
	return Paths{
		Schools:    filepath.Join(dataDir, SchoolsFile),
		Towers:     filepath.Join(dataDir, TowersFile),
		Merged:     filepath.Join(dataDir, MergedFile),
		Elevation:  filepath.Join(dataDir, ElevationFile),
		Population: filepath.Join(dataDir, PopulationFile),
		Ready:      filepath.Join(dataDir, ReadyFile),
		Raster:     raster,
	}
}

// MergeStage joins every school with its nearest tower.
type MergeStage struct {
	paths  Paths
	logger *slog.Logger
}

func NewMergeStage(paths Paths, logger *slog.Logger) *MergeStage {
	return &MergeStage{paths: paths, logger: logger}
}

func (s *MergeStage) Name() string { return domain.StageMerge }

func (s *MergeStage) Run(ctx context.Context) (StageResult, error) {
	towers, err := csvio.Read[domain.Tower](s.paths.Towers, ';')
	if err != nil {
		return StageResult{}, fmt.Errorf("load towers: %w", err)
	}
	located := domain.LocateTowers(towers)
	s.logger.Info("towers loaded", "towers", len(towers), "valid", len(located))

	schools, err := csvio.Read[domain.School](s.paths.Schools, ';')
	if err != nil {
		return StageResult{}, fmt.Errorf("load schools: %w", err)
	}

	rows := make([]domain.SchoolTower, len(schools))
	failed := 0
	for i, school := range schools {
		if err := ctx.Err(); err != nil {
			return StageResult{}, err
		}
		rows[i] = domain.MatchSchool(school, located)
		if rows[i].Error != "" {
			failed++
			s.logger.Debug("school not matched", "row", i, "school_id", school.SchoolID)
		}
	}

	if err := csvio.Write(s.paths.Merged, ',', rows); err != nil {
		return StageResult{}, err
	}
	return StageResult{RowsIn: len(schools), RowsOut: len(rows), RowsFailed: failed, Output: s.paths.Merged}, nil
}

// ElevationStage samples an elevation profile for every matched school.
// Up to workers requests run at once; output order equals input order.
type ElevationStage struct {
	paths    Paths
	enricher *ElevationEnricher
	workers  int
	logger   *slog.Logger
}

func NewElevationStage(paths Paths, enricher *ElevationEnricher, workers int, logger *slog.Logger) *ElevationStage {
	return &ElevationStage{paths: paths, enricher: enricher, workers: max(workers, 1), logger: logger}
}

func (s *ElevationStage) Name() string { return domain.StageElevation }

func (s *ElevationStage) Run(ctx context.Context) (StageResult, error) {
	rows, err := csvio.Read[domain.SchoolTower](s.paths.Merged, ',')
	if err != nil {
		return StageResult{}, fmt.Errorf("load merged rows: %w", err)
	}

	out := make([]domain.ElevationRecord, len(rows))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range rows {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rec, err := s.enricher.Enrich(gctx, rows[i])
			out[i] = rec
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed.Add(1)
			s.logger.Warn("elevation lookup failed, leaving profile empty",
				"row", i, "school_id", rows[i].SchoolID, "error", err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StageResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return StageResult{}, err
	}

	if err := csvio.Write(s.paths.Elevation, ';', out); err != nil {
		return StageResult{}, err
	}
	return StageResult{RowsIn: len(rows), RowsOut: len(out), RowsFailed: int(failed.Load()), Output: s.paths.Elevation}, nil
}

// SamplerCloser is an open population raster.
type SamplerCloser interface {
	domain.DensitySampler
	Close() error
}

// RasterOpener opens the population raster for one stage run.
type RasterOpener func(path string) (SamplerCloser, error)

// PopulationStage reads the population density at every school.
type PopulationStage struct {
	paths  Paths
	open   RasterOpener
	logger *slog.Logger
}

func NewPopulationStage(paths Paths, open RasterOpener, logger *slog.Logger) *PopulationStage {
	return &PopulationStage{paths: paths, open: open, logger: logger}
}

func (s *PopulationStage) Name() string { return domain.StagePopulation }

func (s *PopulationStage) Run(ctx context.Context) (StageResult, error) {
	raster, err := s.open(s.paths.Raster)
	if err != nil {
		return StageResult{}, fmt.Errorf("load population raster: %w", err)
	}
	defer raster.Close()

	rows, err := csvio.Read[domain.ElevationRecord](s.paths.Elevation, ';')
	if err != nil {
		return StageResult{}, fmt.Errorf("load elevation rows: %w", err)
	}

	enricher := NewDensityEnricher(raster)
	out := make([]domain.PopulationRecord, len(rows))
	failed, noData := 0, 0
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return StageResult{}, err
		}
		rec, err := enricher.Enrich(row)
		out[i] = rec
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNoData):
			noData++
		default:
			failed++
			s.logger.Warn("density lookup failed, leaving density empty",
				"row", i, "school_id", row.SchoolID, "error", err)
		}
	}
	if noData > 0 {
		s.logger.Info("schools on no-data pixels", "count", noData)
	}

	if err := csvio.Write(s.paths.Population, ';', out); err != nil {
		return StageResult{}, err
	}
	return StageResult{RowsIn: len(rows), RowsOut: len(out), RowsFailed: failed, Output: s.paths.Population}, nil
}

// RecommendationStage asks the model for the schools where new connectivity
// would have the most impact.
type RecommendationStage struct {
	paths    Paths
	advisor  domain.Advisor
	rowLimit int
	topN     int
	logger   *slog.Logger
}

func NewRecommendationStage(paths Paths, advisor domain.Advisor, rowLimit, topN int, logger *slog.Logger) *RecommendationStage {
	return &RecommendationStage{paths: paths, advisor: advisor, rowLimit: rowLimit, topN: topN, logger: logger}
}

func (s *RecommendationStage) Name() string { return domain.StageRecommendation }

func (s *RecommendationStage) Run(ctx context.Context) (StageResult, error) {
	rows, err := csvio.Read[domain.PopulationRecord](s.paths.Population, ';')
	if err != nil {
		return StageResult{}, fmt.Errorf("load population rows: %w", err)
	}

	candidates := domain.Candidates(rows, s.rowLimit)
	result := StageResult{RowsIn: len(rows), Output: s.paths.Ready}
	if len(candidates) == 0 {
		s.logger.Warn("no schools qualify for recommendation, writing empty result")
		return result, csvio.Write(s.paths.Ready, ';', []domain.Recommendation{})
	}
	s.logger.Info("requesting recommendations", "candidates", len(candidates), "top_n", s.topN)

	prompt, err := domain.BuildPrompt(candidates, s.topN)
	if err != nil {
		return StageResult{}, err
	}
	reply, err := s.advisor.Complete(ctx, prompt)
	if err != nil {
		return StageResult{}, fmt.Errorf("request recommendations: %w", err)
	}
	results, err := domain.ParseModelResponse(reply)
	if err != nil {
		return StageResult{}, err
	}

	recs, unknown := domain.JoinRecommendations(results, rows)
	for _, id := range unknown {
		s.logger.Warn("model returned unknown school, dropping", "school_id", id)
	}
	domain.RankRecommendations(recs)

	if err := csvio.Write(s.paths.Ready, ';', recs); err != nil {
		return StageResult{}, err
	}
	result.RowsOut = len(recs)
	result.RowsFailed = len(unknown)
	result.Recommendations = recs
	return result, nil
}
