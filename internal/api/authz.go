package api

import (
	"context"

	"github.com/nocturnechat/nocturne-gateway/internal/guild"
	"github.com/nocturnechat/nocturne-gateway/internal/member"
	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/role"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// authorizer resolves a caller's guild membership and effective permission bitfield. It
// replaces the teacher's channel/category permission-override Resolver with the flat
// role-bitfield model this repo's data model carries (role.Resolve; see DESIGN.md).
type authorizer struct {
	guilds  *guild.Service
	roles   *role.Service
	members *member.Service
}

// NewAuthorizer builds an authorizer over the guild, role, and member services. Handler
// constructors take the returned value by its unexported type, so cmd/nocturne-gateway never
// names it directly — it just threads the result of this call into each handler constructor.
func NewAuthorizer(guilds *guild.Service, roles *role.Service, members *member.Service) authorizer {
	return authorizer{guilds: guilds, roles: roles, members: members}
}

// requireMember loads a guild and the caller's membership within it. Either lookup failing with
// ErrNotFound/member.ErrNotFound should be surfaced to the caller as "unknown guild" or
// "forbidden", depending on context.
func (a authorizer) requireMember(ctx context.Context, guildID, userID snowflake.ID) (*guild.Guild, *member.Member, error) {
	g, err := a.guilds.GetByID(ctx, guildID)
	if err != nil {
		return nil, nil, err
	}
	m, err := a.members.Get(ctx, guildID, userID)
	if err != nil {
		return nil, nil, err
	}
	return g, m, nil
}

// permissions resolves a member's effective permission bitfield within its guild.
func (a authorizer) permissions(ctx context.Context, guildID snowflake.ID, m *member.Member) (protocol.Permission, error) {
	roles, err := a.roles.ListByGuild(ctx, guildID)
	if err != nil {
		return 0, err
	}
	return role.Resolve(roles, m.RoleSet()), nil
}
