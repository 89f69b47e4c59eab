package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

const (
	messageFileMode = 0o600
	messageDirMode  = 0o700
)

// MessageType enumerates the SyncMessage kinds a transport carries.
type MessageType string

const (
	MessageProtocolUpdate   MessageType = "protocol_update"
	MessageProtocolDelete   MessageType = "protocol_delete"
	MessageActivationChange MessageType = "activation_change"
	MessageSyncRequest      MessageType = "sync_request"
	MessageSyncResponse     MessageType = "sync_response"
	MessageHeartbeat        MessageType = "heartbeat"
	MessageAck              MessageType = "ack"
	MessageNack             MessageType = "nack"
)

// SyncMessage is the unit of exchange between instances, persisted as one
// JSON file per message under <syncDir>/messages.
type SyncMessage struct {
	ID         string          `json:"id"`
	Type       MessageType     `json:"type"`
	FromID     string          `json:"fromId"`
	ToID       string          `json:"toId,omitempty"` // empty = broadcast
	Version    VersionVector   `json:"version"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	InReplyTo  string          `json:"inReplyTo,omitempty"`
}

// InstanceRecord is the heartbeat document one instance writes for others
// to discover it under <syncDir>/instances/<instanceId>.json.
type InstanceRecord struct {
	InstanceID string        `json:"instanceId"`
	Version    VersionVector `json:"version"`
	LastSeen   time.Time     `json:"lastSeen"`
}

// Transport is the atomic file-based message bus backing the Sync Manager.
// Its write discipline follows the marshal-indent/tmp-file/rename pattern
// used elsewhere in this module, generalized to one-file-per-message plus
// an fsnotify watch to shorten poll latency below a plain stat-loop —
// watching a directory of small artifact files rather than polling.
type Transport struct {
	dir        string
	messagesDir string
	instancesDir string
	monoSeq    uint64
	watcher    *fsnotify.Watcher
}

// NewTransport creates a Transport rooted at dir (typically
// <projectRoot>/.swarmkit/sync).
func NewTransport(dir string) (*Transport, error) {
	t := &Transport{
		dir:          dir,
		messagesDir:  filepath.Join(dir, "messages"),
		instancesDir: filepath.Join(dir, "instances"),
	}
	if err := os.MkdirAll(t.messagesDir, messageDirMode); err != nil {
		return nil, fmt.Errorf("sync: create messages dir: %w", err)
	}
	if err := os.MkdirAll(t.instancesDir, messageDirMode); err != nil {
		return nil, fmt.Errorf("sync: create instances dir: %w", err)
	}
	return t, nil
}

// Watch starts an fsnotify watch on the messages directory. Callers select
// on Events()/Errors() alongside their own poll ticker; Watch degrades
// gracefully (poll-only) if the underlying platform watch cannot be
// established.
func (t *Transport) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sync: new watcher: %w", err)
	}
	if err := w.Add(t.messagesDir); err != nil {
		w.Close()
		return fmt.Errorf("sync: watch messages dir: %w", err)
	}
	t.watcher = w
	return nil
}

// Events returns the fsnotify event channel, or nil if Watch was never
// called or has been closed.
func (t *Transport) Events() chan fsnotify.Event {
	if t.watcher == nil {
		return nil
	}
	return t.watcher.Events
}

// Close releases the underlying watcher, if any.
func (t *Transport) Close() error {
	if t.watcher == nil {
		return nil
	}
	return t.watcher.Close()
}

// Send writes msg atomically to <messagesDir>/<ISO-ts>_<uuid>.json.
func (t *Transport) Send(msg SyncMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return fmt.Errorf("sync: marshal message: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", msg.CreatedAt.UTC().Format("20060102T150405.000000000Z"), msg.ID)
	target := filepath.Join(t.messagesDir, name)
	if err := t.atomicWrite(target, data); err != nil {
		return fmt.Errorf("sync: write message: %w", err)
	}
	return nil
}

// Poll reads every message file currently in the messages directory, in
// creation order, and returns the ones strictly newer than since. Malformed
// files are skipped rather than aborting the poll: a single corrupt
// message must never stall the sync loop.
func (t *Transport) Poll(since time.Time) ([]SyncMessage, error) {
	entries, err := os.ReadDir(t.messagesDir)
	if err != nil {
		return nil, fmt.Errorf("sync: read messages dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []SyncMessage
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(t.messagesDir, name))
		if err != nil {
			continue
		}
		var msg SyncMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.CreatedAt.After(since) {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Prune deletes message files older than cutoff (default 5 minute
// retention).
func (t *Transport) Prune(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(t.messagesDir)
	if err != nil {
		return 0, fmt.Errorf("sync: read messages dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(t.messagesDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var msg SyncMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			os.Remove(path)
			removed++
			continue
		}
		if msg.CreatedAt.Before(cutoff) {
			os.Remove(path)
			removed++
		}
	}
	return removed, nil
}

// WriteHeartbeat records rec as the calling instance's liveness document.
func (t *Transport) WriteHeartbeat(rec InstanceRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("sync: marshal instance record: %w", err)
	}
	target := filepath.Join(t.instancesDir, rec.InstanceID+".json")
	return t.atomicWrite(target, data)
}

// ListInstances returns every instance record currently on disk, skipping
// corrupt ones.
func (t *Transport) ListInstances() ([]InstanceRecord, error) {
	entries, err := os.ReadDir(t.instancesDir)
	if err != nil {
		return nil, fmt.Errorf("sync: read instances dir: %w", err)
	}
	var out []InstanceRecord
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.instancesDir, e.Name()))
		if err != nil {
			continue
		}
		var rec InstanceRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// RemoveInstance deletes the instance record for instanceID (timed-out
// peer cleanup).
func (t *Transport) RemoveInstance(instanceID string) error {
	err := os.Remove(filepath.Join(t.instancesDir, instanceID+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sync: remove instance record: %w", err)
	}
	return nil
}

// atomicWrite implements the tmp-fsync-rename contract shared by
// protocol.Registry and feature.Store.
func (t *Transport) atomicWrite(target string, data []byte) error {
	seq := atomic.AddUint64(&t.monoSeq, 1)
	tmp := fmt.Sprintf("%s.tmp.%d", target, seq)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, messageFileMode)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
