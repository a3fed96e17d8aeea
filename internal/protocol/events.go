package protocol

// DispatchEvent names an op-0 DISPATCH payload's `t` field.
type DispatchEvent string

const (
	EventReady               DispatchEvent = "READY"
	EventResumed             DispatchEvent = "RESUMED"
	EventGuildCreate         DispatchEvent = "GUILD_CREATE"
	EventGuildUpdate         DispatchEvent = "GUILD_UPDATE"
	EventGuildDelete         DispatchEvent = "GUILD_DELETE"
	EventGuildMemberAdd      DispatchEvent = "GUILD_MEMBER_ADD"
	EventGuildMemberUpdate   DispatchEvent = "GUILD_MEMBER_UPDATE"
	EventGuildMemberRemove   DispatchEvent = "GUILD_MEMBER_REMOVE"
	EventGuildMembersChunk   DispatchEvent = "GUILD_MEMBERS_CHUNK"
	EventGuildRoleCreate     DispatchEvent = "GUILD_ROLE_CREATE"
	EventGuildRoleUpdate     DispatchEvent = "GUILD_ROLE_UPDATE"
	EventGuildRoleDelete     DispatchEvent = "GUILD_ROLE_DELETE"
	EventGuildBanAdd         DispatchEvent = "GUILD_BAN_ADD"
	EventGuildBanRemove      DispatchEvent = "GUILD_BAN_REMOVE"
	EventChannelCreate       DispatchEvent = "CHANNEL_CREATE"
	EventChannelUpdate       DispatchEvent = "CHANNEL_UPDATE"
	EventChannelDelete       DispatchEvent = "CHANNEL_DELETE"
	EventChannelPinsUpdate   DispatchEvent = "CHANNEL_PINS_UPDATE"
	EventMessageCreate       DispatchEvent = "MESSAGE_CREATE"
	EventMessageUpdate       DispatchEvent = "MESSAGE_UPDATE"
	EventMessageDelete       DispatchEvent = "MESSAGE_DELETE"
	EventMessageDeleteBulk   DispatchEvent = "MESSAGE_DELETE_BULK"
	EventPresenceUpdate      DispatchEvent = "PRESENCE_UPDATE"
	EventPresencesReplace    DispatchEvent = "PRESENCES_REPLACE"
	EventTypingStart         DispatchEvent = "TYPING_START"
)

// Ephemeral reports whether events of this type are sent without a sequence number and are not recorded in a
// session's replay ring (§4.2: only stateful bootstraps and live server dispatches are excluded from replay —
// TYPING_START is excluded because it has no persisted state to reconcile on resume).
func (e DispatchEvent) Ephemeral() bool {
	return e == EventTypingStart
}
