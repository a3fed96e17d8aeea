package gateway

import (
	"testing"

	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
)

func TestSessionRecordAssignsIncreasingSeq(t *testing.T) {
	t.Parallel()

	s := newSession("sess1", 1, "tok", 0, 1, false, 60)

	seq1 := s.record(protocol.EventMessageCreate, "a")
	seq2 := s.record(protocol.EventMessageCreate, "b")

	if seq1 != 1 || seq2 != 2 {
		t.Fatalf("got seq %d, %d; want 1, 2", seq1, seq2)
	}
	if s.SentSeq() != 2 {
		t.Fatalf("SentSeq() = %d, want 2", s.SentSeq())
	}
}

func TestSessionRingEvictsOldestPastCapacity(t *testing.T) {
	t.Parallel()

	s := newSession("sess1", 1, "tok", 0, 1, false, 3)
	for i := 0; i < 5; i++ {
		s.record(protocol.EventMessageCreate, i)
	}

	entries, ok := s.replayFrom(0)
	if ok {
		t.Fatal("replayFrom(0) should report the window fell outside the retained ring")
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries on a failed replay, got %d", len(entries))
	}
}

func TestSessionReplayFromReturnsWindow(t *testing.T) {
	t.Parallel()

	s := newSession("sess1", 1, "tok", 0, 1, false, 60)
	s.record(protocol.EventMessageCreate, "a")
	s.record(protocol.EventMessageCreate, "b")
	s.record(protocol.EventMessageCreate, "c")

	entries, ok := s.replayFrom(1)
	if !ok {
		t.Fatal("replayFrom(1) should succeed within the retained window")
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].payload != "b" || entries[1].payload != "c" {
		t.Fatalf("unexpected replay order: %+v", entries)
	}
}

func TestSessionReplayFromRejectsSeqAheadOfSent(t *testing.T) {
	t.Parallel()

	s := newSession("sess1", 1, "tok", 0, 1, false, 60)
	s.record(protocol.EventMessageCreate, "a")

	if _, ok := s.replayFrom(5); ok {
		t.Fatal("replayFrom with a seq ahead of sent_seq should fail")
	}
}

func TestSessionRegistryCreateAndLookup(t *testing.T) {
	t.Parallel()

	reg := NewSessionRegistry(60)
	s, ok := reg.Create(1, "tok", 0, 1, false)
	if !ok {
		t.Fatal("Create() should succeed")
	}

	got, ok := reg.Lookup(s.ID)
	if !ok || got != s {
		t.Fatal("Lookup() should return the created session")
	}

	reg.Remove(s.ID)
	if _, ok := reg.Lookup(s.ID); ok {
		t.Fatal("Lookup() after Remove() should fail")
	}
}
