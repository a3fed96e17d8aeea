package gateway

import (
	"testing"

	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
)

type fakeConnection struct {
	fail    bool
	events  []protocol.DispatchEvent
	payload []any
}

func (f *fakeConnection) enqueueDispatch(event protocol.DispatchEvent, payload any) bool {
	if f.fail {
		return false
	}
	f.events = append(f.events, event)
	f.payload = append(f.payload, payload)
	return true
}

func TestDispatcherDispatchUserFansOutToEveryConnection(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	a := &fakeConnection{}
	b := &fakeConnection{}
	d.Register(1, a)
	d.Register(1, b)

	n := d.DispatchUser(1, protocol.EventMessageCreate, "hello")
	if n != 2 {
		t.Fatalf("DispatchUser() succeeded on %d connections, want 2", n)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both connections to receive the event")
	}
}

func TestDispatcherUnregisterDropsDeadConnections(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	a := &fakeConnection{fail: true}
	d.Register(1, a)

	n := d.DispatchUser(1, protocol.EventMessageCreate, "hello")
	if n != 0 {
		t.Fatalf("DispatchUser() = %d, want 0 for a failing connection", n)
	}
	if d.ConnectionCount(1) != 0 {
		t.Fatal("a failing connection should be unregistered automatically")
	}
}

func TestDispatcherViewerSetGuildFanOut(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	a := &fakeConnection{}
	d.Register(1, a)
	d.AddViewer(10, 1)

	d.DispatchGuild(10, protocol.EventGuildUpdate, "update")
	if len(a.events) != 1 || a.events[0] != protocol.EventGuildUpdate {
		t.Fatalf("expected guild dispatch to reach the viewer, got %+v", a.events)
	}
}

func TestDispatcherDispatchGuildPrunesZeroConnectionViewers(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	d.AddViewer(10, 1) // viewer with no live connections registered

	d.DispatchGuild(10, protocol.EventGuildUpdate, "update")

	viewers := d.Viewers(10)
	if len(viewers) != 0 {
		t.Fatalf("expected viewer with zero successful connections to be pruned, got %v", viewers)
	}
}

func TestDispatcherAddRemoveViewer(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	d.AddViewer(10, 1)
	d.AddViewer(10, 2)
	if len(d.Viewers(10)) != 2 {
		t.Fatalf("expected 2 viewers")
	}

	d.RemoveViewer(10, 1)
	viewers := d.Viewers(10)
	if len(viewers) != 1 || viewers[0] != 2 {
		t.Fatalf("unexpected viewers after RemoveViewer: %v", viewers)
	}
}
