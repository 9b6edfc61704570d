package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civicworks/sessiond/internal/domain/principal"
	domainsession "github.com/civicworks/sessiond/internal/domain/session"
)

// memStore is an in-memory credential store. The transactor mutex stands in
// for the row lock: every WithTx body runs serialized, the way concurrent
// rotations of one secret serialize on FOR UPDATE in postgres.
type memStore struct {
	rowsMu     sync.Mutex
	tokens     map[uuid.UUID]*domainsession.RefreshToken
	principals map[uuid.UUID]*principal.Principal

	txMu    sync.Mutex
	txErrs  []error
	txCalls int
}

func newMemStore() *memStore {
	return &memStore{
		tokens:     make(map[uuid.UUID]*domainsession.RefreshToken),
		principals: make(map[uuid.UUID]*principal.Principal),
	}
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.txCalls++
	if len(m.txErrs) > 0 {
		err := m.txErrs[0]
		m.txErrs = m.txErrs[1:]
		return err
	}
	return fn(ctx)
}

// failNextTx queues errors returned by the following WithTx calls, one each,
// before the body runs. Models transient transaction failures.
func (m *memStore) failNextTx(errs ...error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.txErrs = append(m.txErrs, errs...)
}

func (m *memStore) txCount() int {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.txCalls
}

func (m *memStore) Create(_ context.Context, t *domainsession.RefreshToken) error {
	m.rowsMu.Lock()
	defer m.rowsMu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cp := *t
	m.tokens[t.ID] = &cp
	return nil
}

func (m *memStore) GetByLookupKey(_ context.Context, lookupKey string, _ bool) (*domainsession.RefreshToken, error) {
	m.rowsMu.Lock()
	defer m.rowsMu.Unlock()
	for _, t := range m.tokens {
		if t.TokenLookupKey == lookupKey && lookupKey != "" {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domainsession.ErrTokenNotFound
}

func (m *memStore) ListLegacy(_ context.Context, _ bool) ([]*domainsession.RefreshToken, error) {
	m.rowsMu.Lock()
	defer m.rowsMu.Unlock()
	var out []*domainsession.RefreshToken
	for _, t := range m.tokens {
		if t.TokenLookupKey == "" {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) UpdateHashes(_ context.Context, id uuid.UUID, lookupKey, verificationHash string) error {
	m.rowsMu.Lock()
	defer m.rowsMu.Unlock()
	if t, ok := m.tokens[id]; ok {
		t.TokenLookupKey = lookupKey
		t.TokenVerificationHash = verificationHash
	}
	return nil
}

func (m *memStore) Revoke(_ context.Context, id uuid.UUID, at time.Time) error {
	m.rowsMu.Lock()
	defer m.rowsMu.Unlock()
	if t, ok := m.tokens[id]; ok && t.RevokedAt == nil {
		at := at
		t.RevokedAt = &at
	}
	return nil
}

func (m *memStore) SetReplacedBy(_ context.Context, id uuid.UUID, successor uuid.UUID) error {
	m.rowsMu.Lock()
	defer m.rowsMu.Unlock()
	if t, ok := m.tokens[id]; ok && t.ReplacedBy == nil {
		successor := successor
		t.ReplacedBy = &successor
	}
	return nil
}

func (m *memStore) RevokeAllForUser(_ context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	m.rowsMu.Lock()
	defer m.rowsMu.Unlock()
	var n int64
	for _, t := range m.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			at := at
			t.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *memStore) Upsert(_ context.Context, p *principal.Principal) error {
	m.rowsMu.Lock()
	defer m.rowsMu.Unlock()
	now := time.Now().UTC()
	p.LastLoginAt = now
	if existing, ok := m.principals[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	m.principals[p.ID] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*principal.Principal, error) {
	m.rowsMu.Lock()
	defer m.rowsMu.Unlock()
	if p, ok := m.principals[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, errors.New("principal not found")
}

// token returns the stored row by id, copied.
func (m *memStore) token(id uuid.UUID) *domainsession.RefreshToken {
	m.rowsMu.Lock()
	defer m.rowsMu.Unlock()
	if t, ok := m.tokens[id]; ok {
		cp := *t
		return &cp
	}
	return nil
}

// tokensFor returns copies of all rows owned by userID.
func (m *memStore) tokensFor(userID uuid.UUID) []*domainsession.RefreshToken {
	m.rowsMu.Lock()
	defer m.rowsMu.Unlock()
	var out []*domainsession.RefreshToken
	for _, t := range m.tokens {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

type recordedEvent struct {
	kind     string
	userID   uuid.UUID
	familyID uuid.UUID
	revoked  int64
}

type memEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (e *memEvents) PublishBreach(_ context.Context, userID, familyID uuid.UUID, revoked int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, recordedEvent{kind: "breach", userID: userID, familyID: familyID, revoked: revoked})
	return nil
}

func (e *memEvents) PublishRevokeAll(_ context.Context, userID uuid.UUID, revoked int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, recordedEvent{kind: "revoke_all", userID: userID, revoked: revoked})
	return nil
}

func (e *memEvents) all() []recordedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]recordedEvent(nil), e.events...)
}
