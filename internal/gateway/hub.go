package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/nocturnechat/nocturne-gateway/internal/auth"
	"github.com/nocturnechat/nocturne-gateway/internal/channel"
	"github.com/nocturnechat/nocturne-gateway/internal/config"
	"github.com/nocturnechat/nocturne-gateway/internal/guild"
	"github.com/nocturnechat/nocturne-gateway/internal/member"
	"github.com/nocturnechat/nocturne-gateway/internal/presence"
	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/role"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
	"github.com/nocturnechat/nocturne-gateway/internal/user"
)

// membersChunkSize bounds how many members a single GUILD_MEMBERS_CHUNK dispatch carries (§4.1).
const membersChunkSize = 1000

// guildListerAdapter satisfies presence.GuildLister over guild.Service, which returns full Guild
// values rather than bare ids.
type guildListerAdapter struct{ guilds *guild.Service }

func (a guildListerAdapter) GuildsForUser(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error) {
	gs, err := a.guilds.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, len(gs))
	for i, g := range gs {
		ids[i] = g.ID
	}
	return ids, nil
}

// Hub is the composition root of the gateway core: it owns the session registry, the fan-out
// Dispatcher, the presence tracker, and the domain services, and serves
// IDENTIFY/RESUME/STATUS_UPDATE/REQUEST_GUILD_MEMBERS/GUILD_SYNC over them. It is the
// in-process replacement for the teacher's Valkey pub/sub Hub — every dispatch here is a direct
// method call instead of a publish/subscribe round trip, since fan-out stays single-process.
type Hub struct {
	cfg        *config.Config
	log        zerolog.Logger
	validator  auth.TokenValidator
	sessions   *SessionRegistry
	dispatcher *Dispatcher
	presences  *presence.Tracker
	limiter    *RateLimiter

	users    *user.Service
	guilds   *guild.Service
	channels *channel.Service
	roles    *role.Service
	members  *member.Service

	connCount atomic.Int64
}

// NewHub wires a Hub's dependencies together, constructing the presence Tracker from guilds and
// the Hub itself (Hub satisfies presence.Dispatcher via DispatchGuild).
func NewHub(
	cfg *config.Config,
	log zerolog.Logger,
	validator auth.TokenValidator,
	limiter *RateLimiter,
	users *user.Service,
	guilds *guild.Service,
	channels *channel.Service,
	roles *role.Service,
	members *member.Service,
) *Hub {
	h := &Hub{
		cfg:        cfg,
		log:        log,
		validator:  validator,
		sessions:   NewSessionRegistry(cfg.GatewayResumeMaxEvents),
		dispatcher: NewDispatcher(),
		limiter:    limiter,
		users:      users,
		guilds:     guilds,
		channels:   channels,
		roles:      roles,
		members:    members,
	}
	h.presences = presence.NewTracker(guildListerAdapter{guilds: guilds}, h)
	return h
}

// DispatchGuild satisfies presence.Dispatcher, forwarding to the Hub's Dispatcher. It is also
// the entry point the HTTP mutation surface uses to fan a guild-scoped event out to every
// viewer (channel-level filtering is not implemented; see Dispatcher.DispatchChannel).
func (h *Hub) DispatchGuild(guildID snowflake.ID, event protocol.DispatchEvent, payload any) {
	h.dispatcher.DispatchGuild(guildID, event, payload)
}

// DispatchUser delivers event directly to every live connection of userID, bypassing the guild
// viewer set. The HTTP mutation surface uses this for events scoped to one recipient, such as
// GUILD_DELETE sent to a kicked or banned member.
func (h *Hub) DispatchUser(userID snowflake.ID, event protocol.DispatchEvent, payload any) int {
	return h.dispatcher.DispatchUser(userID, event, payload)
}

// TypingStart records typing activity and dispatches TYPING_START to the channel's guild
// viewers, on behalf of the HTTP mutation surface's typing-indicator endpoint.
func (h *Hub) TypingStart(guildID, channelID, userID snowflake.ID) {
	h.presences.TypingStart(guildID, channelID, userID)
}

// Serve negotiates version and encoding, enforces the global connection cap, and runs a Client's
// pumps until the connection ends. It is the entry point the fiber websocket upgrade handler
// calls into.
func (h *Hub) Serve(conn *websocket.Conn, version int, encoding string) {
	defer func() { _ = conn.Close() }()

	if version != protocol.GatewayVersion {
		closeRaw(conn, protocol.CloseUnknownError, "unsupported gateway version")
		return
	}
	codec, ok := protocol.CodecFor(encoding)
	if !ok {
		closeRaw(conn, protocol.CloseUnknownError, "unknown encoding")
		return
	}
	if h.connCount.Load() >= int64(h.cfg.GatewayMaxConnections) {
		closeRaw(conn, protocol.CloseUnknownError, "gateway at capacity")
		return
	}

	h.connCount.Add(1)
	defer h.connCount.Add(-1)

	client := newClient(h, conn, codec, h.log.With().Str("component", "gateway.client").Logger())
	go client.writePump()
	client.readPump()
}

func closeRaw(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// validateShard resolves an IDENTIFY payload's optional shard pair to (id, count), defaulting to
// the unsharded (0, 1) when absent. ok is false when count is non-positive or id falls outside
// [0, count).
func validateShard(shard *[2]int) (id, count int, ok bool) {
	if shard == nil {
		return 0, 1, true
	}
	id, count = shard[0], shard[1]
	if count < 1 || id < 0 || id >= count {
		return 0, 0, false
	}
	return id, count, true
}

// handleIdentify runs the full IDENTIFY sequence (§4.1): token and shard validation, session
// creation, presence registration, and READY assembly. It returns false if the connection was
// closed as a result and the read loop must stop.
func (h *Hub) handleIdentify(c *Client, data protocol.IdentifyData) bool {
	ctx := context.Background()

	userID, err := h.validator.Validate(ctx, data.Token)
	if err != nil {
		c.closeWithCode(protocol.CloseAuthFailed, "authentication failed")
		return false
	}

	u, err := h.users.GetByID(ctx, userID)
	if err != nil {
		c.closeWithCode(protocol.CloseAuthFailed, "authentication failed")
		return false
	}

	shardID, shardN, ok := validateShard(data.Shard)
	if !ok {
		c.closeWithCode(protocol.CloseShardingRequired, "invalid shard configuration")
		return false
	}
	if !u.Bot && shardN > 1 {
		c.closeWithCode(protocol.CloseShardingRequired, "only bot accounts may shard")
		return false
	}

	if u.Bot && data.Shard == nil {
		botGuilds, err := h.guilds.ListByUser(ctx, userID)
		if err == nil && len(botGuilds) > h.cfg.BotShardGuildThreshold {
			c.closeWithCode(protocol.CloseShardingRequired, "sharding required")
			return false
		}
	}

	session, ok := h.sessions.Create(userID, data.Token, shardID, shardN, data.Compress)
	if !ok {
		c.closeWithCode(protocol.CloseSessionTimedOut, "could not allocate session")
		return false
	}

	atomicClient := data.Properties["atomic"] == "true"
	session.mu.Lock()
	session.Atomic = atomicClient
	session.mu.Unlock()

	if err := h.presences.GlobalUpdate(ctx, userID, presence.StatusOnline, nil); err != nil {
		h.log.Error().Err(err).Msg("presence global update on identify")
	}

	h.dispatcher.Register(userID, c)
	c.attach(userID, session, atomicClient)

	userGuilds, err := h.guilds.ListByUser(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("list guilds on identify")
		userGuilds = nil
	}

	if !atomicClient {
		for _, g := range userGuilds {
			h.dispatcher.AddViewer(g.ID, userID)
		}
	}

	large := data.LargeThreshold
	if large <= 0 {
		large = h.cfg.GatewayLargeThreshold
	}

	ready := protocol.ReadyData{
		V:         protocol.GatewayVersion,
		User:      toUserPayload(u.ToPublic()),
		SessionID: session.ID,
		Trace:     []string{"gateway"},
	}

	if u.Bot {
		guilds := make([]any, 0, len(userGuilds))
		for _, g := range userGuilds {
			guilds = append(guilds, protocol.UnavailableGuild{ID: g.ID.String(), Unavailable: true})
		}
		ready.Guilds = guilds
		c.enqueueFrame(protocol.NewEphemeralDispatchFrame(protocol.EventReady, ready))

		for _, g := range userGuilds {
			payload, err := h.buildGuildPayload(ctx, g, large)
			if err != nil {
				h.log.Error().Err(err).Str("guild_id", g.ID.String()).Msg("build guild payload for streaming")
				continue
			}
			c.enqueueDispatch(protocol.EventGuildCreate, payload)
		}
	} else {
		guilds := make([]any, 0, len(userGuilds))
		for _, g := range userGuilds {
			payload, err := h.buildGuildPayload(ctx, g, large)
			if err != nil {
				h.log.Error().Err(err).Str("guild_id", g.ID.String()).Msg("build guild payload for ready")
				continue
			}
			guilds = append(guilds, payload)
		}
		ready.Guilds = guilds
		c.enqueueFrame(protocol.NewEphemeralDispatchFrame(protocol.EventReady, ready))
	}

	return true
}

func toUserPayload(p user.Public) protocol.UserPayload {
	return protocol.UserPayload{
		ID:            p.ID.String(),
		Username:      p.Username,
		Discriminator: p.Discriminator,
		Avatar:        p.AvatarHash,
		Bot:           p.Bot,
	}
}

// buildGuildPayload assembles the full guild object: its channels, roles, members (filtered to
// online-only once the guild exceeds large, per §4.1's large_threshold rule), and presence
// snapshot.
func (h *Hub) buildGuildPayload(ctx context.Context, g guild.Guild, large int) (guildPayload, error) {
	channels, err := h.channels.ListByGuild(ctx, g.ID)
	if err != nil {
		return guildPayload{}, fmt.Errorf("list channels: %w", err)
	}
	roles, err := h.roles.ListByGuild(ctx, g.ID)
	if err != nil {
		return guildPayload{}, fmt.Errorf("list roles: %w", err)
	}
	members, err := h.members.ListByGuild(ctx, g.ID)
	if err != nil {
		return guildPayload{}, fmt.Errorf("list members: %w", err)
	}
	presences := h.presences.GuildPresences(g.ID)

	if large > 0 && len(members) > large {
		online := make(map[snowflake.ID]struct{}, len(presences))
		for _, p := range presences {
			if p.Status != presence.StatusOffline {
				online[p.UserID] = struct{}{}
			}
		}
		filtered := make([]member.Member, 0, len(online))
		for _, m := range members {
			if _, ok := online[m.UserID]; ok {
				filtered = append(filtered, m)
			}
		}
		members = filtered
	}

	memberPayloads := make([]memberPayload, 0, len(members))
	for _, m := range members {
		u, err := h.users.GetByID(ctx, m.UserID)
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", m.UserID.String()).Msg("member user lookup failed, skipping")
			continue
		}
		memberPayloads = append(memberPayloads, toMemberPayload(m, u.ToPublic()))
	}

	presencePayloads := make([]presencePayload, 0, len(presences))
	for _, p := range presences {
		presencePayloads = append(presencePayloads, toPresencePayload(p))
	}

	return guildPayload{
		Guild:     g,
		Channels:  channels,
		Roles:     roles,
		Members:   memberPayloads,
		Presences: presencePayloads,
	}, nil
}

// handleResume runs the RESUME sequence (§4.1/§4.2): session lookup, seq-window validation,
// batched replay, and reattachment. Any failure sends a non-resumable INVALID_SESSION and
// reclaims the session for GC, leaving the connection open for a fresh IDENTIFY.
func (h *Hub) handleResume(c *Client, data protocol.ResumeData) bool {
	ctx := context.Background()

	session, ok := h.sessions.Lookup(data.SessionID)
	if !ok || session.Token != data.Token {
		if ok {
			h.sessions.Remove(data.SessionID)
		}
		c.enqueueFrame(protocol.NewInvalidSessionFrame(false))
		c.setState(stateUnauthenticated)
		return true
	}

	entries, ok := session.replayFrom(data.Seq)
	if !ok {
		h.sessions.Remove(data.SessionID)
		c.enqueueFrame(protocol.NewInvalidSessionFrame(false))
		c.setState(stateUnauthenticated)
		return true
	}

	h.dispatcher.Register(session.UserID, c)
	c.attach(session.UserID, session, session.Atomic)

	if !session.Atomic {
		userGuilds, err := h.guilds.ListByUser(ctx, session.UserID)
		if err == nil {
			for _, g := range userGuilds {
				h.dispatcher.AddViewer(g.ID, session.UserID)
			}
		}
	}

	replayEntries(c, entries)

	c.enqueueFrame(protocol.NewEphemeralDispatchFrame(protocol.EventResumed, struct{}{}))
	return true
}

// replayEntries resends recorded dispatches in order, collapsing any run of consecutive
// PRESENCE_UPDATE entries into a single PRESENCES_REPLACE frame carrying the run's seq (§4.2).
func replayEntries(c *Client, entries []replayEntry) {
	var pending []any
	var pendingSeq int64

	flush := func() {
		if len(pending) == 0 {
			return
		}
		seq := pendingSeq
		c.enqueueFrame(protocol.NewDispatchFrame(seq, protocol.EventPresencesReplace, pending))
		pending = nil
	}

	for _, e := range entries {
		if e.event == protocol.EventPresenceUpdate {
			pending = append(pending, e.payload)
			pendingSeq = e.seq
			continue
		}
		flush()
		c.enqueueFrame(protocol.NewDispatchFrame(e.seq, e.event, e.payload))
	}
	flush()
}

// handleStatusUpdate applies a client's STATUS_UPDATE, gated by the presence_updates rate
// bucket. Both an exceeded bucket and an invalid status value silently drop the op rather than
// closing the connection — a bad status value is never worth disconnecting a client over.
func (h *Hub) handleStatusUpdate(c *Client, data protocol.StatusUpdateData) {
	session := c.Session()
	if session == nil {
		return
	}
	if !h.limiter.Allow(context.Background(), BucketPresence, c.UserID(), session.ID,
		h.cfg.RateLimitPresenceCount, time.Duration(h.cfg.RateLimitPresenceWindowSeconds)*time.Second) {
		return
	}
	if data.Status != "" && !presence.ValidStatus(data.Status) {
		return
	}
	if err := h.presences.GlobalUpdate(context.Background(), c.UserID(), presence.Status(data.Status), data.Game); err != nil {
		h.log.Error().Err(err).Msg("presence global update on status update")
	}
}

// handleRequestGuildMembers answers OP 8 with one or more GUILD_MEMBERS_CHUNK dispatches, paged
// to at most membersChunkSize members each.
func (h *Hub) handleRequestGuildMembers(c *Client, data protocol.RequestGuildMembersData) {
	guildID, err := snowflake.Parse(data.GuildID)
	if err != nil {
		return
	}

	ctx := context.Background()
	members, err := h.members.ListByGuild(ctx, guildID)
	if err != nil {
		h.log.Error().Err(err).Msg("list members for request_guild_members")
		return
	}

	limit := len(members)
	if data.Limit > 0 && data.Limit < limit {
		limit = data.Limit
	}
	members = members[:limit]

	for start := 0; start < len(members); start += membersChunkSize {
		end := start + membersChunkSize
		if end > len(members) {
			end = len(members)
		}
		chunk := make([]memberPayload, 0, end-start)
		for _, m := range members[start:end] {
			u, err := h.users.GetByID(ctx, m.UserID)
			if err != nil {
				continue
			}
			chunk = append(chunk, toMemberPayload(m, u.ToPublic()))
		}
		c.enqueueDispatch(protocol.EventGuildMembersChunk, membersChunkPayload{
			GuildID: data.GuildID,
			Members: chunk,
		})
	}
}

// handleGuildSync subscribes an atomic client to the requested guilds' live event streams
// (§4.3): atomic clients only join a guild's viewer set through this explicit call.
func (h *Hub) handleGuildSync(c *Client, data protocol.GuildSyncData) {
	session := c.Session()
	if session != nil {
		session.mu.Lock()
		session.Atomic = true
		session.mu.Unlock()
	}
	c.mu.Lock()
	c.atomic = true
	c.mu.Unlock()

	userID := c.UserID()
	for _, raw := range data.GuildIDs {
		guildID, err := snowflake.Parse(raw)
		if err != nil {
			continue
		}
		h.dispatcher.AddViewer(guildID, userID)
	}
}

// handleDisconnect unregisters a connection and, once a user's connection count reaches zero,
// schedules them offline after the configured grace period — giving a client time to RESUME on
// a new connection before presence flips.
func (h *Hub) handleDisconnect(c *Client) {
	if c.State() != stateEstablished {
		return
	}
	userID := c.UserID()
	remaining := h.dispatcher.Unregister(userID, c)
	if remaining > 0 {
		return
	}

	go func() {
		time.Sleep(h.cfg.GatewayOfflineGracePeriod)
		if h.dispatcher.ConnectionCount(userID) > 0 {
			return
		}
		if err := h.presences.Disconnect(context.Background(), userID); err != nil {
			h.log.Error().Err(err).Msg("presence disconnect")
		}
	}()
}
