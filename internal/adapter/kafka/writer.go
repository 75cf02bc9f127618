package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/school-connectivity-etl/internal/config"
	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Message types, carried in the "type" header.
const (
	typeStageFinished  = "stage_finished"
	typeRecommendation = "recommendation"
)

// Writer publishes stage events to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured event topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishRun announces a finished stage run, keyed by run id.
func (w *Writer) PublishRun(ctx context.Context, run domain.Run) error {
	msg, err := runMessage(run)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run %s: %w", run.ID, err)
	}
	w.logger.Debug("run event published", "run_id", run.ID, "stage", run.Stage, "status", run.Status)
	return nil
}

// PublishRecommendations sends one message per ranked school in a single
// WriteMessages call, keyed by school id.
func (w *Writer) PublishRecommendations(ctx context.Context, runID string, recs []domain.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(recs))
	for i := range recs {
		msg, err := recommendationMessage(runID, i+1, recs[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish recommendations: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// runMessage marshals a finished Run into a Kafka message.
func runMessage(run domain.Run) (kafkago.Message, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run: %w", err)
	}
	finished := run.StartedAt
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	return kafkago.Message{
		Key:   []byte(run.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "type", Value: []byte(typeStageFinished)},
			{Key: "stage", Value: []byte(run.Stage)},
			{Key: "status", Value: []byte(run.Status)},
			{Key: "finished_at", Value: []byte(finished.Format(time.RFC3339))},
		},
	}, nil
}

// recommendationMessage marshals one ranked school. rank starts at 1.
func recommendationMessage(runID string, rank int, rec domain.Recommendation) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize recommendation: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.SchoolID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "type", Value: []byte(typeRecommendation)},
			{Key: "run_id", Value: []byte(runID)},
			{Key: "rank", Value: []byte(fmt.Sprint(rank))},
		},
	}, nil
}
