package protocol

// Permission is a bitfield of capabilities a Role grants its members. This repo carries the flat role-bitfield model
// the data model names (§3: Role.permissions) rather than the teacher's channel/category permission-override system,
// which has no counterpart in the spec's data model — see DESIGN.md.
type Permission uint64

const (
	PermissionViewChannels Permission = 1 << iota
	PermissionSendMessages
	PermissionManageMessages
	PermissionManageChannels
	PermissionManageRoles
	PermissionManageGuild
	PermissionKickMembers
	PermissionBanMembers
	PermissionCreateInvite
	PermissionMentionEveryone
	PermissionAdministrator
)

// AllPermissions has every defined permission bit set.
const AllPermissions = PermissionViewChannels | PermissionSendMessages | PermissionManageMessages |
	PermissionManageChannels | PermissionManageRoles | PermissionManageGuild | PermissionKickMembers |
	PermissionBanMembers | PermissionCreateInvite | PermissionMentionEveryone | PermissionAdministrator

// Has reports whether p includes every bit set in other.
func (p Permission) Has(other Permission) bool {
	return p&other == other
}

// Add returns p with other's bits set.
func (p Permission) Add(other Permission) Permission {
	return p | other
}

// Remove returns p with other's bits cleared.
func (p Permission) Remove(other Permission) Permission {
	return p &^ other
}
