package gateway

import (
	"sync"

	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// Connection is the minimal surface the Dispatcher needs from a client connection: enqueue a
// frame for send, or report failure when the connection can no longer accept one. Satisfied by
// *Client.
type Connection interface {
	enqueueDispatch(event protocol.DispatchEvent, payload any) bool
}

// Dispatcher is the fan-out router (§4.3): a user_id -> set of Connections index, plus per-guild
// viewer sets of user_ids. Both indices are guarded by one RWMutex each since this repo's
// fan-out stays single-process.
type Dispatcher struct {
	mu          sync.RWMutex
	connections map[snowflake.ID]map[Connection]struct{}

	viewersMu sync.RWMutex
	viewers   map[snowflake.ID]map[snowflake.ID]struct{} // guild_id -> set of user_id
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		connections: make(map[snowflake.ID]map[Connection]struct{}),
		viewers:     make(map[snowflake.ID]map[snowflake.ID]struct{}),
	}
}

// Register adds a connection under userID, making it a fan-out target for DispatchUser calls.
func (d *Dispatcher) Register(userID snowflake.ID, conn Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.connections[userID]
	if !ok {
		set = make(map[Connection]struct{})
		d.connections[userID] = set
	}
	set[conn] = struct{}{}
}

// Unregister removes a connection from userID's set. remaining reports how many connections the
// user has left across every guild — zero means the user is now implicitly offline.
func (d *Dispatcher) Unregister(userID snowflake.ID, conn Connection) (remaining int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.connections[userID]
	if !ok {
		return 0
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(d.connections, userID)
		return 0
	}
	return len(set)
}

// ConnectionCount returns how many live connections userID currently has.
func (d *Dispatcher) ConnectionCount(userID snowflake.ID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.connections[userID])
}

// AddViewer subscribes userID to a guild's live event stream (auto-added on IDENTIFY for
// non-atomic clients, or explicitly via GUILD_SYNC for atomic clients).
func (d *Dispatcher) AddViewer(guildID, userID snowflake.ID) {
	d.viewersMu.Lock()
	defer d.viewersMu.Unlock()
	set, ok := d.viewers[guildID]
	if !ok {
		set = make(map[snowflake.ID]struct{})
		d.viewers[guildID] = set
	}
	set[userID] = struct{}{}
}

// RemoveViewer unsubscribes userID from a guild's live event stream.
func (d *Dispatcher) RemoveViewer(guildID, userID snowflake.ID) {
	d.viewersMu.Lock()
	defer d.viewersMu.Unlock()
	if set, ok := d.viewers[guildID]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(d.viewers, guildID)
		}
	}
}

// Viewers returns a snapshot of the user ids currently subscribed to guildID's live events.
func (d *Dispatcher) Viewers(guildID snowflake.ID) []snowflake.ID {
	d.viewersMu.RLock()
	defer d.viewersMu.RUnlock()
	set := d.viewers[guildID]
	out := make([]snowflake.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// DispatchUser enqueues event on every live connection of userID. Connections whose enqueue
// fails are dropped from the index (they close themselves; see Client.enqueueDispatch). It
// returns how many connections the send succeeded on.
func (d *Dispatcher) DispatchUser(userID snowflake.ID, event protocol.DispatchEvent, payload any) int {
	d.mu.RLock()
	conns := make([]Connection, 0, len(d.connections[userID]))
	for c := range d.connections[userID] {
		conns = append(conns, c)
	}
	d.mu.RUnlock()

	successes := 0
	for _, c := range conns {
		if c.enqueueDispatch(event, payload) {
			successes++
		} else {
			d.Unregister(userID, c)
		}
	}
	return successes
}

// DispatchGuild fans event out to every viewer of guildID via DispatchUser. A viewer whose
// dispatch reaches zero live connections is dropped from the viewer set — matching §4.3's "users
// whose dispatch returns zero successful connections are unmarked from the viewer set."
func (d *Dispatcher) DispatchGuild(guildID snowflake.ID, event protocol.DispatchEvent, payload any) {
	for _, userID := range d.Viewers(guildID) {
		if d.DispatchUser(userID, event, payload) == 0 {
			d.RemoveViewer(guildID, userID)
		}
	}
}

// DispatchChannel fans event out to a channel's guild viewers. Channel-level permission
// filtering is a documented extension point this repo does not implement — see DESIGN.md.
func (d *Dispatcher) DispatchChannel(guildID snowflake.ID, event protocol.DispatchEvent, payload any) {
	d.DispatchGuild(guildID, event, payload)
}
