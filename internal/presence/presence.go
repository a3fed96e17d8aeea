// Package presence tracks per-user online status and typing indicators and fans updates out
// through a Dispatcher. State lives entirely in memory, scoped to this process: there is no
// cross-node consistency and nothing survives a restart.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// Status is a user's online status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusDND     Status = "dnd"
	StatusOffline Status = "offline"
)

// ValidStatus reports whether status is settable by a client via STATUS_UPDATE. StatusOffline is
// excluded: clients go offline by disconnecting, not by announcing it.
func ValidStatus(status string) bool {
	switch Status(status) {
	case StatusOnline, StatusIdle, StatusDND:
		return true
	default:
		return false
	}
}

// Presence is a user's current status, aggregated across all of their connections.
type Presence struct {
	UserID snowflake.ID
	Status Status
	Game   *protocol.GameStatus
}

// Offline returns the presence object used when a user's connection count drops to zero.
func Offline(userID snowflake.ID) Presence {
	return Presence{UserID: userID, Status: StatusOffline}
}

// GuildLister resolves the set of guilds a user belongs to, so a presence update can be fanned
// out to each one. Satisfied by the gateway's adapter over guild.Service.ListByUser.
type GuildLister interface {
	GuildsForUser(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error)
}

// Dispatcher fans an event out to every eligible connection subscribed to a guild. Satisfied by
// the gateway Hub.
type Dispatcher interface {
	DispatchGuild(guildID snowflake.ID, event protocol.DispatchEvent, payload any)
}

// Tracker maintains (guild_id, user_id) -> Presence and a global user_id -> Presence aggregated
// across a user's connections.
type Tracker struct {
	mu       sync.RWMutex
	global   map[snowflake.ID]Presence
	perGuild map[snowflake.ID]map[snowflake.ID]Presence

	guilds     GuildLister
	dispatcher Dispatcher
	clock      func() time.Time
}

// NewTracker wires a Tracker to its guild-membership lookup and dispatch fabric.
func NewTracker(guilds GuildLister, dispatcher Dispatcher) *Tracker {
	return NewTrackerWithClock(guilds, dispatcher, time.Now)
}

// NewTrackerWithClock is NewTracker with an injected clock, for deterministic tests.
func NewTrackerWithClock(guilds GuildLister, dispatcher Dispatcher, clock func() time.Time) *Tracker {
	return &Tracker{
		global:     make(map[snowflake.ID]Presence),
		perGuild:   make(map[snowflake.ID]map[snowflake.ID]Presence),
		guilds:     guilds,
		dispatcher: dispatcher,
		clock:      clock,
	}
}

// GlobalUpdate replaces a user's presence and emits PRESENCE_UPDATE to every guild they belong
// to. Concurrent connections for the same user are merged by full replacement: the most recent
// IDENTIFY or STATUS_UPDATE wins, there is no field-level union across connections. status
// defaults to StatusOnline when empty.
func (t *Tracker) GlobalUpdate(ctx context.Context, userID snowflake.ID, status Status, game *protocol.GameStatus) error {
	if status == "" {
		status = StatusOnline
	}
	p := Presence{UserID: userID, Status: status, Game: game}

	t.mu.Lock()
	t.global[userID] = p
	t.mu.Unlock()

	guildIDs, err := t.guilds.GuildsForUser(ctx, userID)
	if err != nil {
		return err
	}

	for _, guildID := range guildIDs {
		t.mu.Lock()
		bucket, ok := t.perGuild[guildID]
		if !ok {
			bucket = make(map[snowflake.ID]Presence)
			t.perGuild[guildID] = bucket
		}
		bucket[userID] = p
		t.mu.Unlock()

		t.dispatcher.DispatchGuild(guildID, protocol.EventPresenceUpdate, protocol.PresenceUpdateData{
			UserID:  userID.String(),
			GuildID: guildID.String(),
			Status:  string(status),
			Game:    game,
		})
	}
	return nil
}

// Disconnect sets a user offline across every guild they belong to. Called on a user's final
// connection closing; a user with remaining connections stays at whatever status their last
// GlobalUpdate set.
func (t *Tracker) Disconnect(ctx context.Context, userID snowflake.ID) error {
	p := Offline(userID)

	t.mu.Lock()
	delete(t.global, userID)
	t.mu.Unlock()

	guildIDs, err := t.guilds.GuildsForUser(ctx, userID)
	if err != nil {
		return err
	}

	for _, guildID := range guildIDs {
		t.mu.Lock()
		if bucket, ok := t.perGuild[guildID]; ok {
			delete(bucket, userID)
		}
		t.mu.Unlock()

		t.dispatcher.DispatchGuild(guildID, protocol.EventPresenceUpdate, protocol.PresenceUpdateData{
			UserID:  userID.String(),
			GuildID: guildID.String(),
			Status:  string(p.Status),
		})
	}
	return nil
}

// Get returns a user's current global presence, defaulting to offline when untracked.
func (t *Tracker) Get(userID snowflake.ID) Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.global[userID]; ok {
		return p
	}
	return Offline(userID)
}

// GuildPresences returns the tracked presence of every online member of a guild, for the
// presence list of the guild objects sent in READY and GUILD_CREATE.
func (t *Tracker) GuildPresences(guildID snowflake.ID) []Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bucket := t.perGuild[guildID]
	out := make([]Presence, 0, len(bucket))
	for _, p := range bucket {
		out = append(out, p)
	}
	return out
}

// TypingStart emits TYPING_START to a channel's guild. No state is stored: a client may re-
// trigger this any number of times and each call dispatches.
func (t *Tracker) TypingStart(guildID, channelID, userID snowflake.ID) {
	t.dispatcher.DispatchGuild(guildID, protocol.EventTypingStart, protocol.TypingStartData{
		ChannelID: channelID.String(),
		GuildID:   guildID.String(),
		UserID:    userID.String(),
		Timestamp: t.clock().Unix(),
	})
}
