package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/contrib-harvester/pkg/orchestrator"
	"github.com/Sternrassler/contrib-harvester/pkg/window"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewWriter(t *testing.T) {
	_, err := NewWriter(nil, "")
	assert.Error(t, err)

	w, err := NewWriter([]string{"localhost:9092"}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTopic, w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}

func TestPublisher_Persist(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, "run-1", zerolog.Nop())
	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return published }

	batch := orchestrator.EntityBatch{
		EntityID: "octocat",
		Complete: true,
		Results: []orchestrator.FetchResult{
			{
				EntityID:    "octocat",
				Kind:        window.KindBefore,
				WindowStart: time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
				WindowEnd:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
				Items:       []string{"a/one"},
				Status:      orchestrator.StatusOK,
			},
			{EntityID: "octocat", Kind: window.KindAfter, Status: orchestrator.StatusNotFound},
		},
	}
	require.NoError(t, p.Persist(context.Background(), batch))
	require.Len(t, w.msgs, 2)

	for _, msg := range w.msgs {
		assert.Equal(t, "octocat", string(msg.Key))
		assert.Equal(t, published, msg.Time)
		require.Len(t, msg.Headers, 1)
		assert.Equal(t, "run-1", string(msg.Headers[0].Value))
	}

	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, "before", ev.Kind)
	assert.Equal(t, []string{"a/one"}, ev.Items)
	assert.Equal(t, "ok", ev.Status)
	assert.True(t, ev.Complete)

	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	assert.Equal(t, "not_found", ev.Status)
	assert.Equal(t, []string{}, ev.Items)
}

func TestPublisher_EmptyBatch(t *testing.T) {
	w := &fakeWriter{err: errors.New("must not be called")}
	p := NewPublisher(w, "run-1", zerolog.Nop())

	assert.NoError(t, p.Persist(context.Background(), orchestrator.EntityBatch{EntityID: "ghost", Complete: true}))
}

func TestPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewPublisher(w, "run-1", zerolog.Nop())

	err := p.Persist(context.Background(), orchestrator.EntityBatch{
		EntityID: "octocat",
		Results:  []orchestrator.FetchResult{{EntityID: "octocat", Kind: window.KindAfter, Status: orchestrator.StatusOK}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish octocat")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
