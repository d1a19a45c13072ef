// Package events publishes completed sighting reports to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sells-group/sightings/internal/config"
	"github.com/sells-group/sightings/internal/model"
	"github.com/sells-group/sightings/internal/resilience"
)

// EventType labels the only event currently published.
const EventType = "sighting.enriched"

// Writer is the subset of *kafka.Writer used by the publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the message body.
type Event struct {
	Type        string                `json:"type"`
	PublishedAt time.Time             `json:"published_at"`
	Report      *model.EnrichedReport `json:"report"`
}

// Publisher writes report events keyed by report number so every event for
// one location lands on the same partition.
type Publisher struct {
	writer Writer
	retry  resilience.RetryConfig
	now    func() time.Time
}

// NewPublisher wraps w.
func NewPublisher(w Writer) *Publisher {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("events", "write_messages")
	return &Publisher{writer: w, retry: retry, now: time.Now}
}

// NewKafkaWriter builds a writer for the configured brokers and topic.
// Retries happen in Publish, so the writer makes a single attempt.
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  1,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// Publish sends one event for report.
func (p *Publisher) Publish(ctx context.Context, report *model.EnrichedReport) error {
	if report == nil || report.ReportNumber == nil {
		return eris.New("events: report has no report number")
	}

	body, err := json.Marshal(Event{Type: EventType, PublishedAt: p.now().UTC(), Report: report})
	if err != nil {
		return eris.Wrap(err, "events: marshal")
	}
	msg := kafka.Message{
		Key:   []byte(*report.ReportNumber),
		Value: body,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(EventType)},
			{Key: "source_account_id", Value: []byte(report.SourceAccountID)},
		},
	}

	err = resilience.Do(ctx, p.retry, func(ctx context.Context) error {
		if werr := p.writer.WriteMessages(ctx, msg); werr != nil {
			return resilience.NewTransientError(werr, 0)
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "events: publish %s", *report.ReportNumber)
	}

	zap.L().Debug("events: report published", zap.String("report_number", *report.ReportNumber))
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return eris.Wrap(p.writer.Close(), "events: close writer")
}
