package kafka

import (
	"context"

	"github.com/NordCoder/Leadbook/internal/domain/kafka"
)

var _ kafka.SessionEvents = (*SessionEventsKafka)(nil)

// SessionEventsKafka publishes session lifecycle events keyed by principal id,
// so all events of one principal land on one partition in order.
type SessionEventsKafka struct {
	p *Producer
}

func NewSessionEventsKafka(p *Producer) *SessionEventsKafka { return &SessionEventsKafka{p: p} }

func (e *SessionEventsKafka) PublishSessionEvent(ctx context.Context, ev kafka.SessionEvent) error {
	key := ev.PrincipalID
	if key == "" {
		key = ev.TokenID
	}
	return e.p.PublishJSON(ctx, []byte(key), ev)
}
