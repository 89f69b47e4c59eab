package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forge9/swarmkit/protocol"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultRetention         = 5 * time.Minute
	defaultInstanceTimeout   = 90 * time.Second
	defaultMaxRetries        = 3
)

// ConflictResolution records the outcome of reconciling a locally-held
// protocol against one received over the wire, via a tie-break chain:
// higher version wins, then newer timestamp, then local keeps its copy.
type ConflictResolution struct {
	Accepted bool
	Reason   string
}

// Manager is the sync manager. It owns a Transport and runs two
// independent background loops (heartbeat, cleanup) plus message
// processing driven by the caller's poll loop: each ticker owns its own
// goroutine and stops on ctx.Done() or an explicit Stop().
type Manager struct {
	instanceID string
	registry   *protocol.Registry
	transport  *Transport
	logger     *slog.Logger

	mu      sync.Mutex
	version VersionVector
	peers   map[string]time.Time // instanceId -> lastSeen
	pending map[string]*pendingAck

	heartbeatInterval time.Duration
	retention         time.Duration
	instanceTimeout   time.Duration
	maxRetries        int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type pendingAck struct {
	msg     SyncMessage
	sentAt  time.Time
	retries int
}

// newInstanceID mints a 32-hex-char instance id from a v4 UUID.
func newInstanceID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// InstanceID returns this manager's own instance id.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// NewManager constructs a Manager backed by registry and transport,
// minting a fresh 128-bit random instance id (a v4 UUID with its hyphens
// stripped to 32 hex chars). Two instances must never share an identity
// even when they share a hostname, so the id is never derived from
// anything in the environment.
func NewManager(registry *protocol.Registry, transport *Transport, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	instanceID := newInstanceID()
	return &Manager{
		instanceID:        instanceID,
		registry:          registry,
		transport:         transport,
		logger:            logger,
		version:           VersionVector{instanceID: 0},
		peers:             make(map[string]time.Time),
		pending:           make(map[string]*pendingAck),
		heartbeatInterval: defaultHeartbeatInterval,
		retention:         defaultRetention,
		instanceTimeout:   defaultInstanceTimeout,
		maxRetries:        defaultMaxRetries,
	}
}

// Start launches the heartbeat and cleanup tickers. It does not itself
// poll for incoming messages; callers drive ProcessOnce from their own
// loop, one polling loop per logical actor rather than a busy-loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(2)
	go m.runTicker(ctx, m.heartbeatInterval, m.runHeartbeat)
	go m.runTicker(ctx, m.retention/2, m.runCleanup)
}

// Stop cancels both background loops and waits for them to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) runTicker(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (m *Manager) runHeartbeat(ctx context.Context) {
	m.mu.Lock()
	rec := InstanceRecord{InstanceID: m.instanceID, Version: m.version.Clone(), LastSeen: time.Now().UTC()}
	m.mu.Unlock()

	if err := m.transport.WriteHeartbeat(rec); err != nil {
		m.logger.Error("sync: write heartbeat failed", "error", err)
		return
	}

	instances, err := m.transport.ListInstances()
	if err != nil {
		m.logger.Error("sync: list instances failed", "error", err)
		return
	}

	now := time.Now().UTC()
	m.mu.Lock()
	for _, inst := range instances {
		if inst.InstanceID == m.instanceID {
			continue
		}
		if now.Sub(inst.LastSeen) > m.instanceTimeout {
			continue
		}
		m.peers[inst.InstanceID] = inst.LastSeen
	}
	for id, lastSeen := range m.peers {
		if now.Sub(lastSeen) > m.instanceTimeout {
			delete(m.peers, id)
			m.logger.Warn("sync: instance timed out", "instance", id)
			_ = m.transport.RemoveInstance(id)
		}
	}
	m.mu.Unlock()
}

func (m *Manager) runCleanup(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.retention)
	removed, err := m.transport.Prune(cutoff)
	if err != nil {
		m.logger.Error("sync: prune messages failed", "error", err)
		return
	}
	if removed > 0 {
		m.logger.Info("sync: pruned expired messages", "count", removed)
	}

	m.mu.Lock()
	for id, p := range m.pending {
		if time.Since(p.sentAt) < m.heartbeatInterval {
			continue
		}
		if p.retries >= m.maxRetries {
			m.logger.Warn("sync: dropping message after max retries", "message", id, "retries", p.retries)
			delete(m.pending, id)
			continue
		}
		p.retries++
		p.sentAt = time.Now()
		if err := m.transport.Send(p.msg); err != nil {
			m.logger.Error("sync: resend failed", "message", id, "error", err)
		}
	}
	m.mu.Unlock()
}

// Bump increments this instance's own version component and returns the
// new vector: v[self] strictly increases on every local mutation.
func (m *Manager) Bump() VersionVector {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version[m.instanceID]++
	return m.version.Clone()
}

// PublishProtocolUpdate broadcasts p's current state after a local
// Register/Update.
func (m *Manager) PublishProtocolUpdate(p protocol.Protocol) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("sync: marshal protocol: %w", err)
	}
	return m.send(MessageProtocolUpdate, payload)
}

// PublishProtocolDelete broadcasts that protocolID was deleted locally.
func (m *Manager) PublishProtocolDelete(protocolID string) error {
	payload, err := json.Marshal(map[string]string{"protocolId": protocolID})
	if err != nil {
		return fmt.Errorf("sync: marshal delete payload: %w", err)
	}
	return m.send(MessageProtocolDelete, payload)
}

// PublishActivationChange broadcasts an activate/deactivate transition.
func (m *Manager) PublishActivationChange(protocolID string, active bool) error {
	payload, err := json.Marshal(map[string]any{"protocolId": protocolID, "active": active})
	if err != nil {
		return fmt.Errorf("sync: marshal activation payload: %w", err)
	}
	return m.send(MessageActivationChange, payload)
}

func (m *Manager) send(t MessageType, payload []byte) error {
	v := m.Bump()
	msg := SyncMessage{Type: t, FromID: m.instanceID, Version: v, Payload: payload, CreatedAt: time.Now().UTC()}
	if err := m.transport.Send(msg); err != nil {
		return fmt.Errorf("sync: publish %s: %w", t, err)
	}
	if requiresAck(t) {
		m.mu.Lock()
		m.pending[msg.ID] = &pendingAck{msg: msg, sentAt: time.Now()}
		m.mu.Unlock()
	}
	return nil
}

func requiresAck(t MessageType) bool {
	switch t {
	case MessageProtocolUpdate, MessageProtocolDelete, MessageActivationChange:
		return true
	default:
		return false
	}
}

// ProcessOnce polls the transport for messages newer than since, applies
// each to the local registry, and returns the new high-water mark along
// with the ConflictResolution of every protocol_update/delete processed.
func (m *Manager) ProcessOnce(since time.Time) (time.Time, []ConflictResolution, error) {
	messages, err := m.transport.Poll(since)
	if err != nil {
		return since, nil, fmt.Errorf("sync: poll: %w", err)
	}

	newSince := since
	var resolutions []ConflictResolution
	for _, msg := range messages {
		if msg.FromID == m.instanceID {
			continue
		}
		if msg.CreatedAt.After(newSince) {
			newSince = msg.CreatedAt
		}

		m.mu.Lock()
		m.version = Merge(m.version, msg.Version)
		m.mu.Unlock()

		switch msg.Type {
		case MessageProtocolUpdate:
			res := m.applyProtocolUpdate(msg)
			resolutions = append(resolutions, res)
		case MessageProtocolDelete:
			res := m.applyProtocolDelete(msg)
			resolutions = append(resolutions, res)
		case MessageActivationChange:
			m.applyActivationChange(msg)
		case MessageAck:
			m.mu.Lock()
			delete(m.pending, msg.InReplyTo)
			m.mu.Unlock()
		case MessageHeartbeat, MessageSyncRequest, MessageSyncResponse, MessageNack:
			// no registry-side effect; heartbeat liveness is tracked via
			// instance records, not messages.
		}
	}
	return newSince, resolutions, nil
}

// applyProtocolUpdate reconciles an incoming protocol against the local
// registry using the version -> timestamp -> local-wins tie-break chain.
func (m *Manager) applyProtocolUpdate(msg SyncMessage) ConflictResolution {
	var incoming protocol.Protocol
	if err := unmarshal(msg.Payload, &incoming); err != nil {
		return ConflictResolution{Accepted: false, Reason: "malformed payload: " + err.Error()}
	}

	existing, ok := m.registry.GetProtocol(incoming.ID)
	if !ok {
		if err := m.registry.Register(incoming); err != nil {
			return ConflictResolution{Accepted: false, Reason: "register failed: " + err.Error()}
		}
		return ConflictResolution{Accepted: true, Reason: "no local copy"}
	}

	res := resolveConflict(existing, incoming)
	if !res.Accepted {
		return res
	}
	if err := m.registry.Update(incoming); err != nil {
		return ConflictResolution{Accepted: false, Reason: "update failed: " + err.Error()}
	}
	return res
}

// resolveConflict applies a deterministic tie-break: higher Version
// string wins; equal Version falls back to UpdatedAt (newer wins); a
// total tie keeps the local copy.
func resolveConflict(local, incoming protocol.Protocol) ConflictResolution {
	switch {
	case incoming.Version > local.Version:
		return ConflictResolution{Accepted: true, Reason: "incoming version " + incoming.Version + " > local " + local.Version}
	case incoming.Version < local.Version:
		return ConflictResolution{Accepted: false, Reason: "local version " + local.Version + " > incoming " + incoming.Version}
	}

	localTime := timestampOf(local)
	incomingTime := timestampOf(incoming)
	switch {
	case incomingTime.After(localTime):
		return ConflictResolution{Accepted: true, Reason: "equal version, incoming is newer"}
	case incomingTime.Before(localTime):
		return ConflictResolution{Accepted: false, Reason: "equal version, local is newer"}
	default:
		return ConflictResolution{Accepted: false, Reason: "total tie, local wins"}
	}
}

// timestampOf returns p's UpdatedAt if set, else its CreatedAt, matching
// the fallback idiom used throughout the registry for optional timestamps.
func timestampOf(p protocol.Protocol) time.Time {
	if p.UpdatedAt != nil {
		return *p.UpdatedAt
	}
	return p.CreatedAt
}

func (m *Manager) applyProtocolDelete(msg SyncMessage) ConflictResolution {
	var body struct {
		ProtocolID string `json:"protocolId"`
	}
	if err := unmarshal(msg.Payload, &body); err != nil {
		return ConflictResolution{Accepted: false, Reason: "malformed payload: " + err.Error()}
	}
	if err := m.registry.Delete(body.ProtocolID); err != nil {
		return ConflictResolution{Accepted: false, Reason: err.Error()}
	}
	return ConflictResolution{Accepted: true, Reason: "deleted"}
}

func (m *Manager) applyActivationChange(msg SyncMessage) {
	var body struct {
		ProtocolID string `json:"protocolId"`
		Active     bool   `json:"active"`
	}
	if err := unmarshal(msg.Payload, &body); err != nil {
		m.logger.Warn("sync: malformed activation_change payload", "error", err)
		return
	}
	var err error
	if body.Active {
		err = m.registry.Activate(body.ProtocolID)
	} else {
		err = m.registry.Deactivate(body.ProtocolID)
	}
	if err != nil {
		m.logger.Warn("sync: apply activation_change failed", "protocol", body.ProtocolID, "error", err)
	}
}

func unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Peers returns the instance ids currently considered alive.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	return out
}
