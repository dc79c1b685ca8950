package kafka

import (
	"context"
	"time"
)

type SessionEventType string

const (
	SessionOpened       SessionEventType = "session.opened"
	SessionRotated      SessionEventType = "session.rotated"
	SessionClosed       SessionEventType = "session.closed"
	RefreshReuseBlocked SessionEventType = "session.refresh_reuse"
)

type SessionEvent struct {
	Type        SessionEventType `json:"type"`
	PrincipalID string           `json:"principal_id,omitempty"`
	TenantID    string           `json:"tenant_id,omitempty"`
	TokenID     string           `json:"token_id,omitempty"`
	At          time.Time        `json:"at"`
}

type SessionEvents interface {
	PublishSessionEvent(ctx context.Context, ev SessionEvent) error
}
