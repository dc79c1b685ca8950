package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Leadbook/internal/domain/outbox"
)

var _ outbox.Repository = (*OutboxRepo)(nil)

// OutboxRepo keeps messages in insertion order. It is used when no database
// is configured and by tests that assert which session events were recorded.
type OutboxRepo struct {
	mu   sync.Mutex
	msgs []outbox.Message
	keys map[string]int
}

func NewOutboxRepo() *OutboxRepo { return &OutboxRepo{keys: make(map[string]int)} }

func (r *OutboxRepo) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key]; ok {
		return nil
	}
	now := time.Now().UTC()
	r.keys[key] = len(r.msgs)
	r.msgs = append(r.msgs, outbox.Message{
		IdempotencyKey: key, Kind: kind, Data: data, Status: outbox.StatusCreated, CreatedAt: now, UpdatedAt: now,
	})
	return nil
}

func (r *OutboxRepo) PickBatch(_ context.Context, batch int, inProgressTTL time.Duration) ([]outbox.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var out []outbox.Message
	for i := range r.msgs {
		if len(out) >= batch {
			break
		}
		m := &r.msgs[i]
		if m.Status == outbox.StatusCreated || (m.Status == outbox.StatusInProgress && m.UpdatedAt.Before(now.Add(-inProgressTTL))) {
			m.Status = outbox.StatusInProgress
			m.UpdatedAt = now
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *OutboxRepo) MarkSuccess(_ context.Context, keys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		if i, ok := r.keys[k]; ok {
			r.msgs[i].Status = outbox.StatusSuccess
			r.msgs[i].UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

// PurgeDelivered drops delivered messages and reindexes the rest.
func (r *OutboxRepo) PurgeDelivered(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.msgs[:0]
	var n int64
	for _, m := range r.msgs {
		if m.Status == outbox.StatusSuccess && m.UpdatedAt.Before(before) {
			delete(r.keys, m.IdempotencyKey)
			n++
			continue
		}
		kept = append(kept, m)
	}
	r.msgs = kept
	for i, m := range r.msgs {
		r.keys[m.IdempotencyKey] = i
	}
	return n, nil
}

// Messages returns a copy of everything enqueued so far.
func (r *OutboxRepo) Messages() []outbox.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outbox.Message(nil), r.msgs...)
}
