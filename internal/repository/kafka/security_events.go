package kafka

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/civicworks/sessiond/internal/domain/session"
)

type SecurityEventsKafka struct {
	p *Producer
}

func NewSecurityEventsKafka(p *Producer) *SecurityEventsKafka { return &SecurityEventsKafka{p: p} }

var _ session.SecurityEvents = (*SecurityEventsKafka)(nil)

type securityEvent struct {
	Type          string    `json:"type"`
	UserID        string    `json:"user_id"`
	FamilyID      string    `json:"family_id,omitempty"`
	TokensRevoked int64     `json:"tokens_revoked"`
	At            time.Time `json:"at"`
}

func (e *SecurityEventsKafka) PublishBreach(ctx context.Context, userID, familyID uuid.UUID, tokensRevoked int64) error {
	return e.p.PublishJSON(ctx, []byte(userID.String()), securityEvent{
		Type:          "session.breach",
		UserID:        userID.String(),
		FamilyID:      familyID.String(),
		TokensRevoked: tokensRevoked,
		At:            time.Now().UTC(),
	})
}

func (e *SecurityEventsKafka) PublishRevokeAll(ctx context.Context, userID uuid.UUID, tokensRevoked int64) error {
	return e.p.PublishJSON(ctx, []byte(userID.String()), securityEvent{
		Type:          "session.revoke_all",
		UserID:        userID.String(),
		TokensRevoked: tokensRevoked,
		At:            time.Now().UTC(),
	})
}
