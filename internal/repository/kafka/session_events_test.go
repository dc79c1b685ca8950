package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	domainkafka "github.com/NordCoder/Leadbook/internal/domain/kafka"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestSessionEvents_PublishKeyedByPrincipal(t *testing.T) {
	w := &captureWriter{}
	ev := NewSessionEventsKafka(newProducer(w, "sessions"))

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err := ev.PublishSessionEvent(context.Background(), domainkafka.SessionEvent{
		Type:        domainkafka.SessionRotated,
		PrincipalID: "u-1",
		TenantID:    "t-1",
		TokenID:     "tok-2",
		At:          at,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "u-1", string(msg.Key))

	var got domainkafka.SessionEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, domainkafka.SessionRotated, got.Type)
	assert.Equal(t, "tok-2", got.TokenID)
	assert.True(t, got.At.Equal(at))

	var ct string
	for _, h := range msg.Headers {
		if h.Key == "content-type" {
			ct = string(h.Value)
		}
	}
	assert.Equal(t, "application/json", ct)
}

func TestSessionEvents_FallsBackToTokenKey(t *testing.T) {
	w := &captureWriter{}
	ev := NewSessionEventsKafka(newProducer(w, "sessions"))

	require.NoError(t, ev.PublishSessionEvent(context.Background(), domainkafka.SessionEvent{
		Type:    domainkafka.RefreshReuseBlocked,
		TokenID: "tok-9",
	}))
	assert.Equal(t, "tok-9", string(w.msgs[0].Key))
}

func TestSessionEvents_WriteError(t *testing.T) {
	w := &captureWriter{err: errors.New("broker down")}
	ev := NewSessionEventsKafka(newProducer(w, "sessions"))

	err := ev.PublishSessionEvent(context.Background(), domainkafka.SessionEvent{Type: domainkafka.SessionOpened, PrincipalID: "u"})
	require.Error(t, err)
}

func TestProducer_HeadersSortedWithSource(t *testing.T) {
	w := &captureWriter{}
	p := newProducer(w, "sessions").WithSource("api-gateway")

	require.NoError(t, p.PublishJSON(context.Background(), []byte("u-1"), map[string]string{"a": "b"}))
	require.Len(t, w.msgs, 1)

	keys := make([]string, 0, len(w.msgs[0].Headers))
	got := map[string]string{}
	for _, h := range w.msgs[0].Headers {
		keys = append(keys, h.Key)
		got[h.Key] = string(h.Value)
	}
	assert.IsNonDecreasing(t, keys)
	assert.Equal(t, "api-gateway", got[headerEventSource])
	assert.Equal(t, "application/json", got[headerContentType])
}
