// Package member models guild membership — the (guild_id, user_id) pair and its nickname,
// deaf/mute flags, and role assignments — on top of the generic document Repository.
package member

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
	"github.com/nocturnechat/nocturne-gateway/internal/store"
)

// Collection is the store collection name members are persisted under.
const Collection = "members"

// Pagination defaults for member listings.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Sentinel errors for the member package.
var (
	ErrNotFound       = errors.New("member: not found")
	ErrAlreadyMember  = errors.New("member: user is already a member")
	ErrNicknameLength = errors.New("member: nickname must be between 1 and 32 characters")
	ErrEveryoneRole   = errors.New("member: the @everyone role cannot be manually assigned or removed")
)

// Member is a (guild_id, user_id) pair with its per-guild nickname, join timestamp, voice
// flags, and role assignments. A Member exists iff user_id is in the owning guild's
// member_ids set.
type Member struct {
	ID       string         `json:"id"` // guildID:userID, the document id (see store.Repository's id-field contract)
	GuildID  snowflake.ID   `json:"guild_id"`
	UserID   snowflake.ID   `json:"user_id"`
	Nickname string         `json:"nickname,omitempty"`
	JoinedAt time.Time      `json:"joined_at"`
	Deaf     bool           `json:"deaf,omitempty"`
	Mute     bool           `json:"mute,omitempty"`
	RoleIDs  []snowflake.ID `json:"role_ids,omitempty"`
}

func docID(guildID, userID snowflake.ID) string {
	return guildID.String() + ":" + userID.String()
}

// HasRole reports whether m holds roleID.
func (m *Member) HasRole(roleID snowflake.ID) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// RoleSet returns m's role ids as a set, for use with role.Resolve.
func (m *Member) RoleSet() map[snowflake.ID]struct{} {
	set := make(map[snowflake.ID]struct{}, len(m.RoleIDs)+1)
	set[m.GuildID] = struct{}{} // every member implicitly holds @everyone
	for _, id := range m.RoleIDs {
		set[id] = struct{}{}
	}
	return set
}

// ValidateNickname checks that a non-nil nickname is between 1 and 32 runes after trimming
// whitespace. A nil pointer means "clear the nickname." On success the pointed-to value is
// replaced with the trimmed result.
func ValidateNickname(nickname *string) error {
	if nickname == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*nickname)
	if n := utf8.RuneCountInString(trimmed); n < 1 || n > 32 {
		return ErrNicknameLength
	}
	*nickname = trimmed
	return nil
}

// ClampLimit constrains a requested page size to [1, MaxLimit], defaulting to DefaultLimit when
// the input is zero or negative.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Service provides member operations over the generic document Repository. Clock is injected
// so JoinedAt is deterministic in tests.
type Service struct {
	repo  store.Repository
	clock func() time.Time
}

// NewService wraps a Repository for member operations, using the real wall clock.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// NewServiceWithClock is like NewService but lets tests inject a deterministic clock.
func NewServiceWithClock(repo store.Repository, clock func() time.Time) *Service {
	return &Service{repo: repo, clock: clock}
}

// Add creates a membership record for userID in guildID.
func (s *Service) Add(ctx context.Context, guildID, userID snowflake.ID) (*Member, error) {
	m := Member{
		ID:       docID(guildID, userID),
		GuildID:  guildID,
		UserID:   userID,
		JoinedAt: s.clock(),
	}
	if _, err := s.repo.InsertOne(ctx, Collection, m); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, ErrAlreadyMember
		}
		return nil, fmt.Errorf("member: insert: %w", err)
	}
	return &m, nil
}

// Get loads a member by guild and user id.
func (s *Service) Get(ctx context.Context, guildID, userID snowflake.ID) (*Member, error) {
	doc, err := s.repo.FindOne(ctx, Collection, store.Query{"id": docID(guildID, userID)})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("member: get: %w", err)
	}
	var m Member
	if err := json.Unmarshal(doc.Data, &m); err != nil {
		return nil, fmt.Errorf("member: decode: %w", err)
	}
	return &m, nil
}

// ListByGuild returns every member of a guild.
func (s *Service) ListByGuild(ctx context.Context, guildID snowflake.ID) ([]Member, error) {
	docs, err := s.repo.Find(ctx, Collection, store.Query{"guild_id": guildID.String()}, store.Sort{})
	if err != nil {
		return nil, fmt.Errorf("member: list: %w", err)
	}
	out := make([]Member, 0, len(docs))
	for _, doc := range docs {
		var m Member
		if err := json.Unmarshal(doc.Data, &m); err != nil {
			return nil, fmt.Errorf("member: decode: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// SetNickname updates a member's nickname. A nil nickname clears it.
func (s *Service) SetNickname(ctx context.Context, guildID, userID snowflake.ID, nickname *string) (*Member, error) {
	if err := ValidateNickname(nickname); err != nil {
		return nil, err
	}
	value := ""
	if nickname != nil {
		value = *nickname
	}
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": docID(guildID, userID)}, map[string]any{
		"nickname": value,
	}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("member: set nickname: %w", err)
	}
	return s.Get(ctx, guildID, userID)
}

// SetVoiceFlags updates a member's deaf/mute flags.
func (s *Service) SetVoiceFlags(ctx context.Context, guildID, userID snowflake.ID, deaf, mute bool) (*Member, error) {
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": docID(guildID, userID)}, map[string]any{
		"deaf": deaf,
		"mute": mute,
	}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("member: set voice flags: %w", err)
	}
	return s.Get(ctx, guildID, userID)
}

// AssignRole adds roleID to a member's role set. The @everyone role (id == guildID) cannot be
// manually assigned; every member implicitly holds it.
func (s *Service) AssignRole(ctx context.Context, guildID, userID, roleID snowflake.ID) (*Member, error) {
	if roleID == guildID {
		return nil, ErrEveryoneRole
	}
	m, err := s.Get(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	if m.HasRole(roleID) {
		return m, nil
	}
	m.RoleIDs = append(m.RoleIDs, roleID)
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": docID(guildID, userID)}, map[string]any{
		"role_ids": m.RoleIDs,
	}); err != nil {
		return nil, fmt.Errorf("member: assign role: %w", err)
	}
	return m, nil
}

// RemoveRole removes roleID from a member's role set.
func (s *Service) RemoveRole(ctx context.Context, guildID, userID, roleID snowflake.ID) (*Member, error) {
	if roleID == guildID {
		return nil, ErrEveryoneRole
	}
	m, err := s.Get(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	out := m.RoleIDs[:0]
	for _, id := range m.RoleIDs {
		if id != roleID {
			out = append(out, id)
		}
	}
	m.RoleIDs = out
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": docID(guildID, userID)}, map[string]any{
		"role_ids": m.RoleIDs,
	}); err != nil {
		return nil, fmt.Errorf("member: remove role: %w", err)
	}
	return m, nil
}

// Remove deletes a membership record outright (kick/leave/ban).
func (s *Service) Remove(ctx context.Context, guildID, userID snowflake.ID) error {
	if _, err := s.repo.DeleteOne(ctx, Collection, store.Query{"id": docID(guildID, userID)}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("member: remove: %w", err)
	}
	return nil
}
