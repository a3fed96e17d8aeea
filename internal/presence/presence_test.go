package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

type fakeGuildLister struct {
	guilds map[snowflake.ID][]snowflake.ID
}

func (f *fakeGuildLister) GuildsForUser(_ context.Context, userID snowflake.ID) ([]snowflake.ID, error) {
	return f.guilds[userID], nil
}

type dispatchedEvent struct {
	guildID snowflake.ID
	event   protocol.DispatchEvent
	payload any
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []dispatchedEvent
}

func (f *fakeDispatcher) DispatchGuild(guildID snowflake.ID, event protocol.DispatchEvent, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, dispatchedEvent{guildID: guildID, event: event, payload: payload})
}

func TestValidStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		want   bool
	}{
		{"online", true},
		{"idle", true},
		{"dnd", true},
		{"offline", false},
		{"invisible", false},
		{"bogus", false},
	}
	for _, tt := range tests {
		if got := ValidStatus(tt.status); got != tt.want {
			t.Errorf("ValidStatus(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTrackerGlobalUpdateDispatchesToEveryGuild(t *testing.T) {
	t.Parallel()

	var userID snowflake.ID = 1
	lister := &fakeGuildLister{guilds: map[snowflake.ID][]snowflake.ID{userID: {10, 20}}}
	dispatcher := &fakeDispatcher{}
	tracker := NewTracker(lister, dispatcher)

	if err := tracker.GlobalUpdate(context.Background(), userID, StatusIdle, nil); err != nil {
		t.Fatalf("GlobalUpdate() error: %v", err)
	}

	if len(dispatcher.events) != 2 {
		t.Fatalf("dispatched %d events, want 2", len(dispatcher.events))
	}
	for _, ev := range dispatcher.events {
		if ev.event != protocol.EventPresenceUpdate {
			t.Errorf("event = %v, want EventPresenceUpdate", ev.event)
		}
		data, ok := ev.payload.(protocol.PresenceUpdateData)
		if !ok {
			t.Fatalf("payload type = %T, want PresenceUpdateData", ev.payload)
		}
		if data.Status != string(StatusIdle) {
			t.Errorf("payload status = %q, want idle", data.Status)
		}
	}

	got := tracker.Get(userID)
	if got.Status != StatusIdle {
		t.Errorf("Get() status = %v, want idle", got.Status)
	}
}

func TestTrackerGlobalUpdateDefaultsToOnline(t *testing.T) {
	t.Parallel()

	var userID snowflake.ID = 1
	lister := &fakeGuildLister{guilds: map[snowflake.ID][]snowflake.ID{}}
	tracker := NewTracker(lister, &fakeDispatcher{})

	if err := tracker.GlobalUpdate(context.Background(), userID, "", nil); err != nil {
		t.Fatalf("GlobalUpdate() error: %v", err)
	}
	if got := tracker.Get(userID); got.Status != StatusOnline {
		t.Errorf("Get() status = %v, want online", got.Status)
	}
}

func TestTrackerGlobalUpdateMostRecentWins(t *testing.T) {
	t.Parallel()

	var userID snowflake.ID = 1
	lister := &fakeGuildLister{guilds: map[snowflake.ID][]snowflake.ID{userID: {10}}}
	tracker := NewTracker(lister, &fakeDispatcher{})
	ctx := context.Background()

	if err := tracker.GlobalUpdate(ctx, userID, StatusOnline, &protocol.GameStatus{Name: "chess"}); err != nil {
		t.Fatalf("GlobalUpdate() error: %v", err)
	}
	if err := tracker.GlobalUpdate(ctx, userID, StatusDND, nil); err != nil {
		t.Fatalf("GlobalUpdate() error: %v", err)
	}

	got := tracker.Get(userID)
	if got.Status != StatusDND {
		t.Errorf("Get() status = %v, want dnd", got.Status)
	}
	if got.Game != nil {
		t.Errorf("Get() game = %v, want nil (full replacement, not field union)", got.Game)
	}
}

func TestTrackerDisconnectSetsOffline(t *testing.T) {
	t.Parallel()

	var userID snowflake.ID = 1
	lister := &fakeGuildLister{guilds: map[snowflake.ID][]snowflake.ID{userID: {10}}}
	dispatcher := &fakeDispatcher{}
	tracker := NewTracker(lister, dispatcher)
	ctx := context.Background()

	if err := tracker.GlobalUpdate(ctx, userID, StatusOnline, nil); err != nil {
		t.Fatalf("GlobalUpdate() error: %v", err)
	}
	if len(tracker.GuildPresences(10)) != 1 {
		t.Fatalf("expected one presence tracked in guild 10")
	}

	if err := tracker.Disconnect(ctx, userID); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}

	if got := tracker.Get(userID); got.Status != StatusOffline {
		t.Errorf("Get() after disconnect = %v, want offline", got.Status)
	}
	if len(tracker.GuildPresences(10)) != 0 {
		t.Errorf("expected guild 10 presence cleared after disconnect")
	}

	last := dispatcher.events[len(dispatcher.events)-1]
	data := last.payload.(protocol.PresenceUpdateData)
	if data.Status != string(StatusOffline) {
		t.Errorf("final dispatched status = %q, want offline", data.Status)
	}
}

func TestTrackerTypingStartDispatchesWithNoStoredState(t *testing.T) {
	t.Parallel()

	dispatcher := &fakeDispatcher{}
	fixed := time.Unix(1700000000, 0)
	tracker := NewTrackerWithClock(&fakeGuildLister{}, dispatcher, func() time.Time { return fixed })

	tracker.TypingStart(10, 20, 1)
	tracker.TypingStart(10, 20, 1)

	if len(dispatcher.events) != 2 {
		t.Fatalf("dispatched %d events, want 2 (no dedup — stateless)", len(dispatcher.events))
	}
	data := dispatcher.events[0].payload.(protocol.TypingStartData)
	if data.ChannelID != snowflake.ID(20).String() || data.GuildID != snowflake.ID(10).String() || data.UserID != snowflake.ID(1).String() {
		t.Errorf("TypingStartData = %+v, unexpected ids", data)
	}
	if data.Timestamp != fixed.Unix() {
		t.Errorf("Timestamp = %d, want %d", data.Timestamp, fixed.Unix())
	}
}
