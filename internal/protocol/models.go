package protocol

// IdentifyData is the op-2 IDENTIFY payload.
type IdentifyData struct {
	Token          string            `json:"token"`
	Properties     map[string]string `json:"properties"`
	LargeThreshold int               `json:"large_threshold"`
	Compress       bool              `json:"compress"`
	Shard          *[2]int           `json:"shard,omitempty"`
}

// ResumeData is the op-6 RESUME payload.
type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// StatusUpdateData is the op-3 STATUS_UPDATE payload.
type StatusUpdateData struct {
	Status string      `json:"status"`
	Game   *GameStatus `json:"game"`
}

// GameStatus describes the activity a user is presenting alongside their presence status.
type GameStatus struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	URL  string `json:"url,omitempty"`
}

// HelloData is the op-10 HELLO payload.
type HelloData struct {
	HeartbeatInterval int      `json:"heartbeat_interval"`
	Trace             []string `json:"_trace"`
}

// RequestGuildMembersData is the op-8 REQUEST_GUILD_MEMBERS payload.
type RequestGuildMembersData struct {
	GuildID string `json:"guild_id"`
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
}

// GuildSyncData is the op-12 GUILD_SYNC payload: the set of guild ids an atomic client wants live events for.
type GuildSyncData struct {
	GuildIDs []string `json:"guild_ids"`
}

// ReadyData is the payload of the READY dispatch sent after a successful IDENTIFY.
type ReadyData struct {
	V               int              `json:"v"`
	User            UserPayload      `json:"user"`
	Guilds          []any            `json:"guilds"`
	SessionID       string           `json:"session_id"`
	Trace           []string         `json:"_trace"`
	PrivateChannels []any            `json:"private_channels"`
}

// UnavailableGuild is the stub guild object sent in READY for bot accounts ("guild streaming").
type UnavailableGuild struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// UserPayload is the public shape of a User sent to clients.
type UserPayload struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
	Verified      bool   `json:"verified,omitempty"`
}

// PresenceUpdateData is both the client's op-3 echo shape on the wire and the server's PRESENCE_UPDATE payload.
type PresenceUpdateData struct {
	UserID string      `json:"user_id"`
	GuildID string     `json:"guild_id,omitempty"`
	Status  string      `json:"status"`
	Game    *GameStatus `json:"game"`
}

// TypingStartData is the TYPING_START dispatch payload.
type TypingStartData struct {
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
}
