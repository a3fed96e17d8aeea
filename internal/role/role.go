// Package role models the Role entity, its permission bitfield, and its persistence on top of
// the generic document Repository.
package role

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
	"github.com/nocturnechat/nocturne-gateway/internal/store"
)

// Collection is the store collection name roles are persisted under.
const Collection = "roles"

// Sentinel errors for the role package.
var (
	ErrNotFound           = errors.New("role: not found")
	ErrNameLength         = errors.New("role: name must be between 1 and 100 characters")
	ErrInvalidPosition    = errors.New("role: position must be non-negative")
	ErrInvalidPermissions = errors.New("role: permissions bitfield contains invalid bits")
	ErrInvalidColor       = errors.New("role: color must be between 0 and 16777215")
	ErrEveryoneImmutable  = errors.New("role: the @everyone role cannot be deleted")
)

// Role is a named, ordered permission grant within a guild. The role whose ID equals its
// GuildID is the implicit @everyone role every member holds.
type Role struct {
	ID          snowflake.ID        `json:"id"`
	GuildID     snowflake.ID        `json:"guild_id"`
	Name        string              `json:"name"`
	Color       int                 `json:"color"`
	Position    int                 `json:"position"`
	Permissions protocol.Permission `json:"permissions"`
	Hoist       bool                `json:"hoist,omitempty"`
	Managed     bool                `json:"managed,omitempty"`
	Mentionable bool                `json:"mentionable,omitempty"`
}

// IsEveryone reports whether r is a guild's implicit @everyone role.
func (r *Role) IsEveryone() bool {
	return r.ID == r.GuildID
}

// ValidateNameRequired validates and trims a name that must be present.
func ValidateNameRequired(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if n := utf8.RuneCountInString(trimmed); n < 1 || n > 100 {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// ValidateName checks that a non-nil name is between 1 and 100 characters (runes) after
// trimming whitespace. A nil pointer means "no change." On success the pointed-to value is
// replaced with the trimmed result.
func ValidateName(name *string) error {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if n := utf8.RuneCountInString(trimmed); n < 1 || n > 100 {
		return ErrNameLength
	}
	*name = trimmed
	return nil
}

// ValidatePosition checks that a non-nil position is non-negative. A nil pointer means "no
// change."
func ValidatePosition(pos *int) error {
	if pos == nil {
		return nil
	}
	if *pos < 0 {
		return ErrInvalidPosition
	}
	return nil
}

// ValidatePermissions checks that a non-nil permissions bitfield contains only defined bits. A
// nil pointer means "no change."
func ValidatePermissions(perms *protocol.Permission) error {
	if perms == nil {
		return nil
	}
	if *perms&^protocol.AllPermissions != 0 {
		return ErrInvalidPermissions
	}
	return nil
}

// ValidateColor checks that a non-nil color is in the valid RGB range (0 to 0xFFFFFF). A nil
// pointer means "no change."
func ValidateColor(color *int) error {
	if color == nil {
		return nil
	}
	if *color < 0 || *color > 0xFFFFFF {
		return ErrInvalidColor
	}
	return nil
}

// Service provides role operations over the generic document Repository.
type Service struct {
	repo store.Repository
}

// NewService wraps a Repository for role operations.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo}
}

// CreateEveryone persists the implicit @everyone role for a newly created guild. Its id equals
// the guild's id.
func (s *Service) CreateEveryone(ctx context.Context, guildID snowflake.ID) (*Role, error) {
	r := Role{
		ID:          guildID,
		GuildID:     guildID,
		Name:        "@everyone",
		Permissions: protocol.PermissionViewChannels | protocol.PermissionSendMessages | protocol.PermissionCreateInvite,
	}
	if _, err := s.repo.InsertOne(ctx, Collection, r); err != nil {
		return nil, fmt.Errorf("role: insert everyone: %w", err)
	}
	return &r, nil
}

// Create persists a new non-@everyone role.
func (s *Service) Create(ctx context.Context, r Role) (*Role, error) {
	name, err := ValidateNameRequired(r.Name)
	if err != nil {
		return nil, err
	}
	r.Name = name
	if err := ValidatePermissions(&r.Permissions); err != nil {
		return nil, err
	}
	if err := ValidateColor(&r.Color); err != nil {
		return nil, err
	}
	if _, err := s.repo.InsertOne(ctx, Collection, r); err != nil {
		return nil, fmt.Errorf("role: insert: %w", err)
	}
	return &r, nil
}

// GetByID loads a role by id.
func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*Role, error) {
	doc, err := s.repo.FindOne(ctx, Collection, store.Query{"id": id.String()})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("role: get: %w", err)
	}
	var r Role
	if err := json.Unmarshal(doc.Data, &r); err != nil {
		return nil, fmt.Errorf("role: decode: %w", err)
	}
	return &r, nil
}

// ListByGuild returns every role belonging to a guild, in position order.
func (s *Service) ListByGuild(ctx context.Context, guildID snowflake.ID) ([]Role, error) {
	docs, err := s.repo.Find(ctx, Collection, store.Query{"guild_id": guildID.String()}, store.Sort{Field: "position"})
	if err != nil {
		return nil, fmt.Errorf("role: list: %w", err)
	}
	out := make([]Role, 0, len(docs))
	for _, doc := range docs {
		var r Role
		if err := json.Unmarshal(doc.Data, &r); err != nil {
			return nil, fmt.Errorf("role: decode: %w", err)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// Update applies a partial patch to a role. Nil fields are left unchanged.
func (s *Service) Update(ctx context.Context, id snowflake.ID, name *string, color, position *int, permissions *protocol.Permission, hoist, mentionable *bool) (*Role, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateColor(color); err != nil {
		return nil, err
	}
	if err := ValidatePosition(position); err != nil {
		return nil, err
	}
	if err := ValidatePermissions(permissions); err != nil {
		return nil, err
	}

	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}

	patch := map[string]any{}
	if name != nil {
		patch["name"] = *name
	}
	if color != nil {
		patch["color"] = *color
	}
	if position != nil {
		patch["position"] = *position
	}
	if permissions != nil {
		patch["permissions"] = *permissions
	}
	if hoist != nil {
		patch["hoist"] = *hoist
	}
	if mentionable != nil {
		patch["mentionable"] = *mentionable
	}
	if len(patch) == 0 {
		return s.GetByID(ctx, id)
	}
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, patch); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("role: update: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Delete removes a role outright. The @everyone role can never be deleted.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	r, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if r.IsEveryone() {
		return ErrEveryoneImmutable
	}
	if _, err := s.repo.DeleteOne(ctx, Collection, store.Query{"id": id.String()}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("role: delete: %w", err)
	}
	return nil
}

// Resolve returns the union of every role's permissions in ids (the flat permission model this
// repo carries in place of the teacher's channel/category override resolver; see DESIGN.md).
// PermissionAdministrator in the union collapses the result to AllPermissions.
func Resolve(roles []Role, ids map[snowflake.ID]struct{}) protocol.Permission {
	var sum protocol.Permission
	for _, r := range roles {
		if _, held := ids[r.ID]; held {
			sum = sum.Add(r.Permissions)
		}
	}
	if sum.Has(protocol.PermissionAdministrator) {
		return protocol.AllPermissions
	}
	return sum
}
