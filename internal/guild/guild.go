// Package guild models the Guild entity — its membership, channel, role, and ban sets — and
// orchestrates guild creation across the channel and role services on top of the generic
// document Repository.
package guild

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nocturnechat/nocturne-gateway/internal/channel"
	"github.com/nocturnechat/nocturne-gateway/internal/role"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
	"github.com/nocturnechat/nocturne-gateway/internal/store"
)

// Collection is the store collection name guilds are persisted under.
const Collection = "guilds"

// DefaultChannelName is the name given to the text channel created alongside a new guild.
const DefaultChannelName = "general"

// Sentinel errors for the guild package.
var (
	ErrNotFound         = errors.New("guild: not found")
	ErrNameLength       = errors.New("guild: name must be between 2 and 100 characters")
	ErrNotOwner         = errors.New("guild: only the owner may perform this action")
	ErrOwnerCannotLeave = errors.New("guild: the owner cannot leave their own guild")
	ErrAlreadyMember    = errors.New("guild: user is already a member")
	ErrNotMember        = errors.New("guild: user is not a member")
	ErrAlreadyBanned    = errors.New("guild: user is already banned")
	ErrBanned           = errors.New("guild: user is banned from this guild")
)

// Guild is a community of members, channels, and roles. The viewer set named alongside this
// entity in the data model is runtime gateway state (which connections are subscribed to live
// events for this guild) owned by the Dispatcher, not part of the persisted document — see
// DESIGN.md.
type Guild struct {
	ID         snowflake.ID   `json:"id"`
	Name       string         `json:"name"`
	OwnerID    snowflake.ID   `json:"owner_id"`
	Region     string         `json:"region,omitempty"`
	IconHash   string         `json:"icon_hash,omitempty"`
	SplashHash string         `json:"splash_hash,omitempty"`
	Features   []string       `json:"features,omitempty"`
	MemberIDs  []snowflake.ID `json:"member_ids,omitempty"`
	ChannelIDs []snowflake.ID `json:"channel_ids,omitempty"`
	RoleIDs    []snowflake.ID `json:"role_ids,omitempty"`
	BanIDs     []snowflake.ID `json:"ban_ids,omitempty"`
}

// IsOwner reports whether userID owns g.
func (g *Guild) IsOwner(userID snowflake.ID) bool {
	return g.OwnerID == userID
}

// IsMember reports whether userID is a member of g.
func (g *Guild) IsMember(userID snowflake.ID) bool {
	return contains(g.MemberIDs, userID)
}

// IsBanned reports whether userID is banned from g.
func (g *Guild) IsBanned(userID snowflake.ID) bool {
	return contains(g.BanIDs, userID)
}

func contains(ids []snowflake.ID, target snowflake.ID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func without(ids []snowflake.ID, target snowflake.ID) []snowflake.ID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// ValidateName checks that a non-nil name is between 2 and 100 characters (runes) after
// trimming whitespace. A nil pointer means "no change." On success the pointed-to value is
// replaced with the trimmed result.
func ValidateName(name *string) error {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if n := utf8.RuneCountInString(trimmed); n < 2 || n > 100 {
		return ErrNameLength
	}
	*name = trimmed
	return nil
}

// Service provides guild operations over the generic document Repository, orchestrating the
// channel and role services for guild creation.
type Service struct {
	repo     store.Repository
	channels *channel.Service
	roles    *role.Service
	ids      *snowflake.Generator
}

// NewService wraps a Repository, channel Service, role Service, and id Generator for guild
// operations. The Generator mints the default channel's id during Create; the guild's own id is
// supplied by the caller, matching how channel/role Create calls are shaped.
func NewService(repo store.Repository, channels *channel.Service, roles *role.Service, ids *snowflake.Generator) *Service {
	return &Service{repo: repo, channels: channels, roles: roles, ids: ids}
}

// Create persists a new guild owned by ownerID, who becomes its sole member. It also creates
// the guild's implicit @everyone role and a default text channel, per SPEC_FULL.md §4.5.1.
func (s *Service) Create(ctx context.Context, id, ownerID snowflake.ID, name string) (*Guild, error) {
	trimmed := name
	if err := ValidateName(&trimmed); err != nil {
		return nil, err
	}

	everyone, err := s.roles.CreateEveryone(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("guild: create everyone role: %w", err)
	}

	defaultChannel, err := s.channels.CreateText(ctx, channel.NewText(s.ids.Next(), id, DefaultChannelName))
	if err != nil {
		return nil, fmt.Errorf("guild: create default channel: %w", err)
	}

	g := Guild{
		ID:         id,
		Name:       trimmed,
		OwnerID:    ownerID,
		MemberIDs:  []snowflake.ID{ownerID},
		ChannelIDs: []snowflake.ID{defaultChannel.ID},
		RoleIDs:    []snowflake.ID{everyone.ID},
	}
	if _, err := s.repo.InsertOne(ctx, Collection, g); err != nil {
		return nil, fmt.Errorf("guild: insert: %w", err)
	}
	return &g, nil
}

// GetByID loads a guild by id.
func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*Guild, error) {
	doc, err := s.repo.FindOne(ctx, Collection, store.Query{"id": id.String()})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("guild: get: %w", err)
	}
	return decode(doc)
}

// ListByUser returns every guild userID is a member of. Membership is a set stored inside each
// guild document, so this scans the collection rather than issuing an array-containment filter
// (kept portable across the Postgres-backed and in-memory Repository implementations alike).
func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID) ([]Guild, error) {
	docs, err := s.repo.Find(ctx, Collection, store.Query{}, store.Sort{})
	if err != nil {
		return nil, fmt.Errorf("guild: list by user: %w", err)
	}
	var out []Guild
	for _, doc := range docs {
		g, err := decode(doc)
		if err != nil {
			return nil, err
		}
		if g.IsMember(userID) {
			out = append(out, *g)
		}
	}
	return out, nil
}

// Update applies a partial update to a guild's name, region, icon hash, and/or splash hash. A
// nil field means "no change."
func (s *Service) Update(ctx context.Context, id snowflake.ID, name, region, iconHash, splashHash *string) (*Guild, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	patch := map[string]any{}
	if name != nil {
		patch["name"] = *name
	}
	if region != nil {
		patch["region"] = *region
	}
	if iconHash != nil {
		patch["icon_hash"] = *iconHash
	}
	if splashHash != nil {
		patch["splash_hash"] = *splashHash
	}
	if len(patch) == 0 {
		return s.GetByID(ctx, id)
	}

	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, patch); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("guild: update: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Delete removes a guild outright.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	if _, err := s.repo.DeleteOne(ctx, Collection, store.Query{"id": id.String()}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("guild: delete: %w", err)
	}
	return nil
}

// AddMember adds userID to a guild's member set, as when an invite is redeemed.
func (s *Service) AddMember(ctx context.Context, id, userID snowflake.ID) (*Guild, error) {
	g, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.IsBanned(userID) {
		return nil, ErrBanned
	}
	if g.IsMember(userID) {
		return nil, ErrAlreadyMember
	}
	g.MemberIDs = append(g.MemberIDs, userID)
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, map[string]any{
		"member_ids": g.MemberIDs,
	}); err != nil {
		return nil, fmt.Errorf("guild: add member: %w", err)
	}
	return g, nil
}

// RemoveMember removes userID from a guild's member set (kick or voluntary leave). The owner
// can never leave their own guild.
func (s *Service) RemoveMember(ctx context.Context, id, userID snowflake.ID) (*Guild, error) {
	g, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.IsOwner(userID) {
		return nil, ErrOwnerCannotLeave
	}
	if !g.IsMember(userID) {
		return nil, ErrNotMember
	}
	g.MemberIDs = without(g.MemberIDs, userID)
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, map[string]any{
		"member_ids": g.MemberIDs,
	}); err != nil {
		return nil, fmt.Errorf("guild: remove member: %w", err)
	}
	return g, nil
}

// Ban adds userID to a guild's ban set and removes them from the member set, if present.
func (s *Service) Ban(ctx context.Context, id, userID snowflake.ID) (*Guild, error) {
	g, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.IsOwner(userID) {
		return nil, ErrNotOwner
	}
	if g.IsBanned(userID) {
		return nil, ErrAlreadyBanned
	}
	g.BanIDs = append(g.BanIDs, userID)
	g.MemberIDs = without(g.MemberIDs, userID)
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, map[string]any{
		"ban_ids":    g.BanIDs,
		"member_ids": g.MemberIDs,
	}); err != nil {
		return nil, fmt.Errorf("guild: ban: %w", err)
	}
	return g, nil
}

// Unban removes userID from a guild's ban set.
func (s *Service) Unban(ctx context.Context, id, userID snowflake.ID) (*Guild, error) {
	g, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	g.BanIDs = without(g.BanIDs, userID)
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, map[string]any{
		"ban_ids": g.BanIDs,
	}); err != nil {
		return nil, fmt.Errorf("guild: unban: %w", err)
	}
	return g, nil
}

// AddChannel records a newly created channel's id on the guild's channel set.
func (s *Service) AddChannel(ctx context.Context, id, channelID snowflake.ID) (*Guild, error) {
	g, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if contains(g.ChannelIDs, channelID) {
		return g, nil
	}
	g.ChannelIDs = append(g.ChannelIDs, channelID)
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, map[string]any{
		"channel_ids": g.ChannelIDs,
	}); err != nil {
		return nil, fmt.Errorf("guild: add channel: %w", err)
	}
	return g, nil
}

// RemoveChannel drops a channel id from the guild's channel set.
func (s *Service) RemoveChannel(ctx context.Context, id, channelID snowflake.ID) (*Guild, error) {
	g, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	g.ChannelIDs = without(g.ChannelIDs, channelID)
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, map[string]any{
		"channel_ids": g.ChannelIDs,
	}); err != nil {
		return nil, fmt.Errorf("guild: remove channel: %w", err)
	}
	return g, nil
}

// AddRole records a newly created role's id on the guild's role set.
func (s *Service) AddRole(ctx context.Context, id, roleID snowflake.ID) (*Guild, error) {
	g, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if contains(g.RoleIDs, roleID) {
		return g, nil
	}
	g.RoleIDs = append(g.RoleIDs, roleID)
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, map[string]any{
		"role_ids": g.RoleIDs,
	}); err != nil {
		return nil, fmt.Errorf("guild: add role: %w", err)
	}
	return g, nil
}

// RemoveRole drops a role id from the guild's role set.
func (s *Service) RemoveRole(ctx context.Context, id, roleID snowflake.ID) (*Guild, error) {
	g, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	g.RoleIDs = without(g.RoleIDs, roleID)
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, map[string]any{
		"role_ids": g.RoleIDs,
	}); err != nil {
		return nil, fmt.Errorf("guild: remove role: %w", err)
	}
	return g, nil
}

func decode(doc store.Document) (*Guild, error) {
	var g Guild
	if err := json.Unmarshal(doc.Data, &g); err != nil {
		return nil, fmt.Errorf("guild: decode: %w", err)
	}
	return &g, nil
}
