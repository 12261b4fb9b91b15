// Package kafka publishes every persisted result as a JSON event, so
// downstream consumers can aggregate without polling the database.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/Sternrassler/contrib-harvester/pkg/orchestrator"
)

// DefaultTopic receives result events unless configured otherwise.
const DefaultTopic = "harvest.results"

// Writer is the subset of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the message value of one result.
type Event struct {
	RunID       string    `json:"run_id"`
	EntityID    string    `json:"entity_id"`
	Kind        string    `json:"kind"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Items       []string  `json:"items"`
	Status      string    `json:"status"`
	Complete    bool      `json:"complete"`
	PublishedAt time.Time `json:"published_at"`
}

// NewWriter creates a writer that hashes message keys onto partitions, so
// all events of an entity stay ordered.
func NewWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}, nil
}

// Publisher is a sink writing one message per result, keyed by entity ID.
type Publisher struct {
	writer Writer
	runID  string
	logger zerolog.Logger
	now    func() time.Time
}

// NewPublisher wraps w.
func NewPublisher(w Writer, runID string, logger zerolog.Logger) *Publisher {
	return &Publisher{
		writer: w,
		runID:  runID,
		logger: logger.With().Str("component", "kafka-publisher").Logger(),
		now:    time.Now,
	}
}

// Persist publishes the batch's results in one write.
func (p *Publisher) Persist(ctx context.Context, batch orchestrator.EntityBatch) error {
	if len(batch.Results) == 0 {
		return nil
	}

	now := p.now().UTC()
	msgs := make([]kafka.Message, 0, len(batch.Results))
	for _, r := range batch.Results {
		items := r.Items
		if items == nil {
			items = []string{}
		}
		value, err := json.Marshal(Event{
			RunID:       p.runID,
			EntityID:    r.EntityID,
			Kind:        string(r.Kind),
			WindowStart: r.WindowStart.UTC(),
			WindowEnd:   r.WindowEnd.UTC(),
			Items:       items,
			Status:      string(r.Status),
			Complete:    batch.Complete,
			PublishedAt: now,
		})
		if err != nil {
			return fmt.Errorf("encode event %s/%s: %w", r.EntityID, r.Kind, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(batch.EntityID),
			Value: value,
			Time:  now,
			Headers: []kafka.Header{
				{Key: "run_id", Value: []byte(p.runID)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %s: %w", batch.EntityID, err)
	}

	p.logger.Debug().
		Str("entity", batch.EntityID).
		Int("events", len(msgs)).
		Msg("Results published")
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
