package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicworks/sessiond/internal/domain/principal"
	domainsession "github.com/civicworks/sessiond/internal/domain/session"
	"github.com/civicworks/sessiond/internal/obs"
	"github.com/civicworks/sessiond/internal/token"
)

type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
	Now        func() time.Time
}

type Usecase struct {
	tokens     domainsession.TokenRepo
	principals principal.Repo
	tx         domainsession.Transactor
	events     domainsession.SecurityEvents
	hasher     *token.Hasher
	minter     *token.Minter
	log        *zap.Logger
	cfg        Config
}

// NewUsecase wires the token state machine. events may be nil; publishing is
// best-effort either way.
func NewUsecase(
	tokens domainsession.TokenRepo,
	principals principal.Repo,
	tx domainsession.Transactor,
	events domainsession.SecurityEvents,
	cfg Config,
	log *zap.Logger,
) (*Usecase, error) {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.RefreshTTL <= 0 {
		return nil, errors.New("session: non-positive refresh TTL")
	}
	minter, err := token.NewMinter(cfg.Secret, cfg.AccessTTL, cfg.Now)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Usecase{
		tokens:     tokens,
		principals: principals,
		tx:         tx,
		events:     events,
		hasher:     token.NewHasher(cfg.BcryptCost),
		minter:     minter,
		log:        log,
		cfg:        cfg,
	}, nil
}

// Login records the verified identity snapshot and mints a fresh session:
// a new rotation family, an access token, and the raw refresh secret that is
// handed out exactly once.
func (u *Usecase) Login(ctx context.Context, ident principal.Principal) (access, refreshRaw string, err error) {
	if err := u.principals.Upsert(ctx, &ident); err != nil {
		return "", "", fmt.Errorf("record principal: %w", err)
	}
	access, err = u.minter.Mint(ident.ID, ident.Email, ident.Role)
	if err != nil {
		return "", "", err
	}
	refreshRaw, _, err = u.issue(ctx, ident.ID, uuid.Nil)
	if err != nil {
		return "", "", err
	}
	obs.SessionsIssued.Inc()
	return access, refreshRaw, nil
}

// issue mints a raw secret and persists its record. A zero familyID starts a
// new rotation family; a set one continues an existing chain. The write goes
// through whatever transaction rides in ctx, so rotation can compose it
// atomically with the old row's retirement.
func (u *Usecase) issue(ctx context.Context, userID, familyID uuid.UUID) (string, *domainsession.RefreshToken, error) {
	raw, err := token.NewSecret()
	if err != nil {
		return "", nil, fmt.Errorf("generate refresh secret: %w", err)
	}
	lookupKey, verificationHash, err := u.hasher.Derive(raw)
	if err != nil {
		return "", nil, err
	}
	if familyID == uuid.Nil {
		familyID = uuid.New()
	}
	rec := &domainsession.RefreshToken{
		ID:                    uuid.New(),
		UserID:                userID,
		FamilyID:              familyID,
		TokenVerificationHash: verificationHash,
		TokenLookupKey:        lookupKey,
		ExpiresAt:             u.cfg.Now().Add(u.cfg.RefreshTTL),
	}
	if err := u.tokens.Create(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("save refresh token: %w", err)
	}
	return raw, rec, nil
}

// locate finds the record for a presented secret and proves possession.
// A lookup-key hit with a failed verification hash is treated as not found;
// the lookup index alone is not a security boundary.
func (u *Usecase) locate(ctx context.Context, raw string, forUpdate bool) (*domainsession.RefreshToken, error) {
	lookupKey := token.LookupKey(raw)

	rec, err := u.tokens.GetByLookupKey(ctx, lookupKey, forUpdate)
	if err == nil {
		if _, ok := u.hasher.Verify(raw, rec.TokenVerificationHash); !ok {
			return nil, domainsession.ErrInvalidToken
		}
		return rec, nil
	}
	if !errors.Is(err, domainsession.ErrTokenNotFound) {
		// Storage failures (and lock contention) are not auth outcomes;
		// surface them unchanged so the caller does not drop the session.
		return nil, err
	}

	// Rows written before the lookup-key column exist with a NULL key. Try
	// legacy verification and repair the row in place so old sessions keep
	// working without a blocking migration.
	legacy, lerr := u.tokens.ListLegacy(ctx, forUpdate)
	if lerr != nil {
		return nil, lerr
	}
	for _, rec := range legacy {
		scheme, ok := u.hasher.Verify(raw, rec.TokenVerificationHash)
		if !ok {
			continue
		}
		verificationHash := rec.TokenVerificationHash
		if scheme != token.SchemeBcryptDigest {
			if _, verificationHash, err = u.hasher.Derive(raw); err != nil {
				return nil, err
			}
		}
		if err := u.tokens.UpdateHashes(ctx, rec.ID, lookupKey, verificationHash); err != nil {
			return nil, err
		}
		rec.TokenLookupKey = lookupKey
		rec.TokenVerificationHash = verificationHash
		obs.LegacyMigrations.WithLabelValues(string(scheme)).Inc()
		u.log.Info("legacy refresh token upgraded",
			zap.String("token_id", rec.ID.String()),
			zap.String("scheme", string(scheme)))
		return rec, nil
	}

	return nil, domainsession.ErrInvalidToken
}

// Rotate retires oldRaw and returns a fresh access token plus the successor
// refresh secret. Reuse of an already-retired secret is treated as theft:
// every session the owning user holds is revoked before the failure is
// reported.
func (u *Usecase) Rotate(ctx context.Context, oldRaw string) (access, newRaw string, err error) {
	if oldRaw == "" {
		return "", "", domainsession.ErrMissingToken
	}

	var (
		userID        uuid.UUID
		familyID      uuid.UUID
		breachRevoked int64 = -1
	)

	txErr := u.tx.WithTx(ctx, func(ctx context.Context) error {
		old, err := u.locate(ctx, oldRaw, true)
		if err != nil {
			return err
		}
		userID = old.UserID
		familyID = old.FamilyID
		now := u.cfg.Now()

		// Reuse check comes before the expiry check: a rotated-then-expired
		// token replay is still evidence of theft.
		if old.RevokedAt != nil {
			n, err := u.tokens.RevokeAllForUser(ctx, old.UserID, now)
			if err != nil {
				return err
			}
			// Commit the lockout; the failure is reported after the
			// transaction finalizes.
			breachRevoked = n
			return nil
		}

		if old.ExpiresAt.Before(now) {
			// Leave the record untouched so an aged-out token stays
			// distinguishable from a rotated one.
			return domainsession.ErrExpiredToken
		}

		if err := u.tokens.Revoke(ctx, old.ID, now); err != nil {
			return err
		}
		raw, successor, err := u.issue(ctx, old.UserID, old.FamilyID)
		if err != nil {
			return err
		}
		if err := u.tokens.SetReplacedBy(ctx, old.ID, successor.ID); err != nil {
			return err
		}
		newRaw = raw
		return nil
	})
	if txErr != nil {
		return "", "", txErr
	}

	if breachRevoked >= 0 {
		obs.BreachLockouts.Inc()
		u.log.Warn("refresh token reuse detected, all sessions revoked",
			zap.String("user_id", userID.String()),
			zap.String("family_id", familyID.String()),
			zap.Int64("tokens_revoked", breachRevoked))
		if u.events != nil {
			if err := u.events.PublishBreach(ctx, userID, familyID, breachRevoked); err != nil {
				u.log.Error("publish breach event", zap.Error(err))
			}
		}
		return "", "", domainsession.ErrBreachDetected
	}

	p, err := u.principals.GetByID(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("load principal %s: %w", userID, err)
	}
	access, err = u.minter.Mint(p.ID, p.Email, p.Role)
	if err != nil {
		return "", "", err
	}
	return access, newRaw, nil
}

// Revoke closes the session behind a presented secret. It is idempotent:
// unknown and already-revoked secrets both succeed without mutation, and it
// never takes the breach path. Logout is the expected terminal action, not
// evidence of reuse.
func (u *Usecase) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	return u.tx.WithTx(ctx, func(ctx context.Context) error {
		rec, err := u.locate(ctx, raw, true)
		if err != nil {
			if errors.Is(err, domainsession.ErrInvalidToken) {
				return nil
			}
			return err
		}
		if rec.RevokedAt != nil {
			return nil
		}
		return u.tokens.Revoke(ctx, rec.ID, u.cfg.Now())
	})
}

// RevokeAllForUser force-closes every session a user holds, across all
// rotation families.
func (u *Usecase) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := u.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = u.tokens.RevokeAllForUser(ctx, userID, u.cfg.Now())
		return err
	})
	if err != nil {
		return 0, err
	}
	if u.events != nil && n > 0 {
		if err := u.events.PublishRevokeAll(ctx, userID, n); err != nil {
			u.log.Error("publish revoke-all event", zap.Error(err))
		}
	}
	return n, nil
}

// ParseAccess validates a stateless access token and returns its claims.
func (u *Usecase) ParseAccess(tokenStr string) (*token.AccessClaims, error) {
	return u.minter.Parse(tokenStr)
}

// AccessTTL exposes the access token lifetime for cookie max-age.
func (u *Usecase) AccessTTL() time.Duration { return u.minter.TTL() }

// RefreshTTL exposes the refresh token lifetime for cookie max-age.
func (u *Usecase) RefreshTTL() time.Duration { return u.cfg.RefreshTTL }
