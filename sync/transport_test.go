package sync

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	tr, err := NewTransport(filepath.Join(t.TempDir(), "sync"))
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	return tr
}

func TestSendAndPollReturnsNewMessages(t *testing.T) {
	tr := newTestTransport(t)

	base := time.Now().UTC().Add(-time.Hour)
	if err := tr.Send(SyncMessage{Type: MessageHeartbeat, FromID: "a", CreatedAt: base.Add(time.Second)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := tr.Send(SyncMessage{Type: MessageHeartbeat, FromID: "a", CreatedAt: base.Add(2 * time.Second)}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs, err := tr.Poll(base)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}

	msgs, err = tr.Poll(base.Add(time.Second))
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after cutoff, want 1", len(msgs))
	}
}

func TestPruneRemovesOldMessages(t *testing.T) {
	tr := newTestTransport(t)

	old := time.Now().UTC().Add(-time.Hour)
	recent := time.Now().UTC()
	if err := tr.Send(SyncMessage{Type: MessageHeartbeat, FromID: "a", CreatedAt: old}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := tr.Send(SyncMessage{Type: MessageHeartbeat, FromID: "a", CreatedAt: recent}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	removed, err := tr.Prune(time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	msgs, err := tr.Poll(time.Time{})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages remaining, want 1", len(msgs))
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	tr := newTestTransport(t)

	rec := InstanceRecord{InstanceID: "inst-1", Version: VersionVector{"inst-1": 3}, LastSeen: time.Now().UTC()}
	if err := tr.WriteHeartbeat(rec); err != nil {
		t.Fatalf("WriteHeartbeat: %v", err)
	}

	got, err := tr.ListInstances()
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(got) != 1 || got[0].InstanceID != "inst-1" {
		t.Fatalf("got %+v, want one record for inst-1", got)
	}

	if err := tr.RemoveInstance("inst-1"); err != nil {
		t.Fatalf("RemoveInstance: %v", err)
	}
	got, err = tr.ListInstances()
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d records after removal, want 0", len(got))
	}
}
