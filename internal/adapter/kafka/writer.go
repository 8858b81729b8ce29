package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/ensemble-features/internal/config"
	"github.com/couchcryptid/ensemble-features/internal/domain"
)

// Writer publishes feature matrix rows to a Kafka topic, one message per
// issue time.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured feature topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// featureMessage is the JSON value of one published row. Missing cells are
// omitted from Features.
type featureMessage struct {
	RunID     string             `json:"run_id"`
	IssueTime time.Time          `json:"issue_time"`
	Noon      bool               `json:"noon"`
	Features  map[string]float64 `json:"features"`
}

// Persist serializes every row of m and publishes them in a single
// WriteMessages call. Rows are keyed by issue time so reruns of the same
// history land on the same partition.
func (w *Writer) Persist(ctx context.Context, m domain.FeatureMatrix) error {
	if len(m.Index) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(m.Index))
	for i := range m.Index {
		msg, err := serializeToMessage(m, i)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish features: %w", err)
	}
	w.logger.Debug("feature rows published", "topic", w.writer.Topic, "rows", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals row i of m into a Kafka message.
func serializeToMessage(m domain.FeatureMatrix, i int) (kafkago.Message, error) {
	issued := m.Index[i].UTC()
	value := featureMessage{
		RunID:     m.RunID,
		IssueTime: issued,
		Features:  make(map[string]float64, len(m.Columns)),
	}
	for j, name := range m.Columns {
		v := m.Values[i][j]
		if math.IsNaN(v) {
			continue
		}
		if name == domain.NoonColumn {
			value.Noon = v == 1
			continue
		}
		value.Features[name] = v
	}

	data, err := json.Marshal(value)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize feature row %s: %w", issued.Format(time.RFC3339), err)
	}
	return kafkago.Message{
		Key:   []byte(issued.Format(time.RFC3339)),
		Value: data,
		Time:  issued,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(m.RunID)},
			{Key: "generated_at", Value: []byte(m.GeneratedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
