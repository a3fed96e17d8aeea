package gateway

import (
	"github.com/nocturnechat/nocturne-gateway/internal/channel"
	"github.com/nocturnechat/nocturne-gateway/internal/guild"
	"github.com/nocturnechat/nocturne-gateway/internal/member"
	"github.com/nocturnechat/nocturne-gateway/internal/presence"
	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/role"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
	"github.com/nocturnechat/nocturne-gateway/internal/user"
)

// memberPayload is the wire shape of a guild member, carried inside guildPayload and in
// GUILD_MEMBER_ADD/UPDATE/REMOVE dispatch payloads.
type memberPayload struct {
	User     user.Public    `json:"user"`
	Nickname string         `json:"nick,omitempty"`
	JoinedAt string         `json:"joined_at"`
	Deaf     bool           `json:"deaf,omitempty"`
	Mute     bool           `json:"mute,omitempty"`
	Roles    []snowflake.ID `json:"roles,omitempty"`
}

func toMemberPayload(m member.Member, u user.Public) memberPayload {
	return memberPayload{
		User:     u,
		Nickname: m.Nickname,
		JoinedAt: m.JoinedAt.Format("2006-01-02T15:04:05Z07:00"),
		Deaf:     m.Deaf,
		Mute:     m.Mute,
		Roles:    m.RoleIDs,
	}
}

// presencePayload is the wire shape of one user's presence inside a guildPayload's initial
// snapshot.
type presencePayload struct {
	UserID string             `json:"user_id"`
	Status string             `json:"status"`
	Game   *protocol.GameStatus `json:"game"`
}

func toPresencePayload(p presence.Presence) presencePayload {
	return presencePayload{UserID: p.UserID.String(), Status: string(p.Status), Game: p.Game}
}

// guildPayload is the full guild object sent in READY (for non-bot accounts) or GUILD_CREATE
// (guild streaming for bots): the guild plus its channels, roles, members, and presence
// snapshot, matching §4.1 step 7's "emit the guild object."
type guildPayload struct {
	guild.Guild
	Channels  []channel.Channel `json:"channels"`
	Roles     []role.Role       `json:"roles"`
	Members   []memberPayload   `json:"members"`
	Presences []presencePayload `json:"presences"`
}

// guildMemberRemovePayload is the GUILD_MEMBER_REMOVE / GUILD_DELETE dispatch payload.
type guildMemberRemovePayload struct {
	GuildID string      `json:"guild_id"`
	User    user.Public `json:"user"`
}

// guildDeletePayload is the GUILD_DELETE dispatch payload sent to a user removed from (or who
// left) a guild.
type guildDeletePayload struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// membersChunkPayload is the GUILD_MEMBERS_CHUNK dispatch payload, paged to at most 1000 members
// per event per §4.1.
type membersChunkPayload struct {
	GuildID string          `json:"guild_id"`
	Members []memberPayload `json:"members"`
}
