// Package invite models Invite codes and their redemption/expiry rules.
package invite

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
	"github.com/nocturnechat/nocturne-gateway/internal/store"
)

// Collection is the store collection name invites are persisted under.
const Collection = "invites"

const (
	codeLength   = 8
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	maxGenerateAttempts = 20
)

// Sentinel errors for the invite package.
var (
	ErrNotFound          = errors.New("invite: not found")
	ErrExpired           = errors.New("invite: expired")
	ErrUsesExhausted     = errors.New("invite: no uses remaining")
	ErrCodeGenFailed     = errors.New("invite: failed to generate a unique code")
	ErrInvalidRemaining  = errors.New("invite: remaining uses must be -1 (infinite) or non-negative")
)

// RemainingInfinite marks an invite with no cap on redemptions.
const RemainingInfinite = -1

// Invite is a redeemable code granting guild membership through a channel.
type Invite struct {
	Code      string       `json:"id"` // the code IS the document id; see store.Repository's id-field contract.
	ChannelID snowflake.ID `json:"channel_id"`
	GuildID   snowflake.ID `json:"guild_id"`
	InviterID snowflake.ID `json:"inviter_id"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	Remaining int          `json:"remaining"`
	Temporary bool         `json:"temporary,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Expired reports whether the invite's expiry has passed as of now.
func (i *Invite) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}

// Exhausted reports whether the invite has no uses left.
func (i *Invite) Exhausted() bool {
	return i.Remaining != RemainingInfinite && i.Remaining <= 0
}

// ValidateRemaining checks that a remaining-uses value is -1 (infinite) or non-negative.
func ValidateRemaining(remaining int) error {
	if remaining < RemainingInfinite {
		return ErrInvalidRemaining
	}
	return nil
}

// Service provides invite operations over the generic document Repository. Clock is injected
// so the janitor and redemption logic share one time source, keeping expiry comparisons
// consistent between the two (see the janitor in cmd/nocturne-gateway, which passes the cutoff
// to PurgeExpired).
type Service struct {
	repo  store.Repository
	clock func() time.Time
}

// NewService wraps a Repository for invite operations, using the real wall clock.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// NewServiceWithClock is like NewService but lets tests inject a deterministic clock.
func NewServiceWithClock(repo store.Repository, clock func() time.Time) *Service {
	return &Service{repo: repo, clock: clock}
}

// Create mints a new invite with a collision-checked random code, retrying on collision up to
// maxGenerateAttempts times.
func (s *Service) Create(ctx context.Context, inv Invite) (*Invite, error) {
	if err := ValidateRemaining(inv.Remaining); err != nil {
		return nil, err
	}
	inv.CreatedAt = s.clock()

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, err
		}
		inv.Code = code

		_, err = s.repo.InsertOne(ctx, Collection, inv)
		if err == nil {
			return &inv, nil
		}
		if store.IsUniqueViolation(err) {
			continue
		}
		return nil, fmt.Errorf("invite: insert: %w", err)
	}
	return nil, ErrCodeGenFailed
}

// Get loads an invite by code.
func (s *Service) Get(ctx context.Context, code string) (*Invite, error) {
	doc, err := s.repo.FindOne(ctx, Collection, store.Query{"id": code})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("invite: get: %w", err)
	}
	var inv Invite
	if err := json.Unmarshal(doc.Data, &inv); err != nil {
		return nil, fmt.Errorf("invite: decode: %w", err)
	}
	return &inv, nil
}

// Redeem validates and atomically decrements an invite's remaining-uses counter. The caller is
// responsible for adding the redeemer as a guild member after Redeem succeeds.
func (s *Service) Redeem(ctx context.Context, code string) (*Invite, error) {
	inv, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if inv.Expired(s.clock()) {
		return nil, ErrExpired
	}
	if inv.Exhausted() {
		return nil, ErrUsesExhausted
	}

	if inv.Remaining != RemainingInfinite {
		inv.Remaining--
		if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": code}, map[string]any{
			"remaining": inv.Remaining,
		}); err != nil {
			return nil, fmt.Errorf("invite: decrement remaining uses: %w", err)
		}
	}
	return inv, nil
}

// Delete removes an invite outright.
func (s *Service) Delete(ctx context.Context, code string) error {
	if _, err := s.repo.DeleteOne(ctx, Collection, store.Query{"id": code}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("invite: delete: %w", err)
	}
	return nil
}

// PurgeExpired deletes every invite whose expiry has passed as of now. Used by the janitor.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	all, err := s.repo.Find(ctx, Collection, store.Query{}, store.Sort{})
	if err != nil {
		return 0, fmt.Errorf("invite: scan for expiry: %w", err)
	}

	var purged int64
	for _, doc := range all {
		var inv Invite
		if err := json.Unmarshal(doc.Data, &inv); err != nil {
			continue
		}
		if !inv.Expired(now) {
			continue
		}
		if _, err := s.repo.DeleteOne(ctx, Collection, store.Query{"id": inv.Code}); err != nil && !errors.Is(err, store.ErrNotFound) {
			return purged, fmt.Errorf("invite: delete expired %s: %w", inv.Code, err)
		}
		purged++
	}
	return purged, nil
}

// generateCode produces a cryptographically random alphanumeric string of codeLength characters.
func generateCode() (string, error) {
	alphabetLen := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, codeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("crypto/rand: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
