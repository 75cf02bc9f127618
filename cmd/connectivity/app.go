package main

import (
	"context"
	"fmt"

	"github.com/couchcryptid/school-connectivity-etl/internal/adapter/elevation"
	"github.com/couchcryptid/school-connectivity-etl/internal/adapter/geotiff"
	kafkaadapter "github.com/couchcryptid/school-connectivity-etl/internal/adapter/kafka"
	"github.com/couchcryptid/school-connectivity-etl/internal/adapter/llm"
	"github.com/couchcryptid/school-connectivity-etl/internal/config"
	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
	"github.com/couchcryptid/school-connectivity-etl/internal/observability"
	"github.com/couchcryptid/school-connectivity-etl/internal/pipeline"
	"github.com/couchcryptid/school-connectivity-etl/internal/resilience"
	"github.com/couchcryptid/school-connectivity-etl/internal/store"
)

// app holds the wired pipeline and everything that needs closing.
type app struct {
	runner  *pipeline.Runner
	paths   pipeline.Paths
	closers []func() error
}

func newApp(ctx context.Context, metrics *observability.Metrics) (*app, error) {
	a := &app{paths: pipeline.DefaultPaths(cfg.DataDir, cfg.PopulationRaster)}

	st, err := store.NewSQLite(cfg.RunStorePath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)
	if err := st.Migrate(ctx); err != nil {
		a.close()
		return nil, err
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts

	client := elevation.NewClient(elevation.Options{
		APIKey:    cfg.ElevationAPIKey,
		BaseURL:   cfg.ElevationURL,
		Timeout:   cfg.ElevationTimeout,
		RateLimit: cfg.ElevationRateLimit,
		Retry:     retry,
	}, metrics, logger)
	if err := client.Check(); err != nil {
		logger.Warn("elevation lookups will fail", "error", err)
	}
	provider, err := elevation.NewCachedProvider(client, cfg.ElevationCacheSize, metrics)
	if err != nil {
		a.close()
		return nil, err
	}

	advisor := newAdvisor(cfg, retry, metrics)
	publisher := newPublisher(cfg)
	if w, ok := publisher.(*kafkaadapter.Writer); ok {
		a.closers = append(a.closers, w.Close)
	}

	openRaster := func(path string) (pipeline.SamplerCloser, error) {
		r, err := geotiff.Open(path, geotiff.DefaultCacheBlocks, metrics)
		if err != nil {
			return nil, err
		}
		return r, nil
	}

	stages := []pipeline.Stage{
		pipeline.NewMergeStage(a.paths, logger),
		pipeline.NewElevationStage(a.paths, pipeline.NewElevationEnricher(provider, cfg.ElevationSamples), cfg.ElevationWorkers, logger),
		pipeline.NewPopulationStage(a.paths, openRaster, logger),
		pipeline.NewRecommendationStage(a.paths, advisor, cfg.RecommendationRowLimit, cfg.RecommendationTopN, logger),
	}
	a.runner = pipeline.NewRunner(stages, st, publisher, logger, metrics)

	logger.Info("pipeline configured",
		"data_dir", cfg.DataDir,
		"raster", cfg.PopulationRaster,
		"elevation_workers", cfg.ElevationWorkers,
		"llm_provider", cfg.LLMProvider,
		"llm_model", cfg.LLMModel,
		"kafka_enabled", cfg.KafkaEnabled(),
	)
	return a, nil
}

func newAdvisor(cfg *config.Config, retry resilience.RetryConfig, metrics *observability.Metrics) domain.Advisor {
	opts := llm.Options{
		URL:       cfg.LLMURL,
		APIKey:    cfg.LLMAPIKey,
		Model:     cfg.LLMModel,
		MaxTokens: cfg.LLMMaxTokens,
		Timeout:   cfg.LLMTimeout,
		Retry:     retry,
	}
	if cfg.LLMAPIKey == "" {
		logger.Warn("no API key for the recommendation model", "provider", cfg.LLMProvider)
	}
	if cfg.LLMProvider == config.ProviderAnthropic {
		return llm.NewAnthropicClient(opts, metrics, logger)
	}
	return llm.NewChatClient(opts, metrics, logger)
}

func newPublisher(cfg *config.Config) pipeline.Publisher {
	if !cfg.KafkaEnabled() {
		logger.Info("stage event publishing disabled")
		return pipeline.NopPublisher{}
	}
	logger.Info("publishing stage events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	return kafkaadapter.NewWriter(cfg, logger)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Error("close error", "error", err)
		}
	}
}

// stageName accepts the stage names and "all".
func stageName(arg string) (string, error) {
	if arg == "all" {
		return arg, nil
	}
	for _, s := range domain.Stages {
		if s == arg {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q: want one of %v or all", arg, domain.Stages)
}
