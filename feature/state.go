package feature

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// MaxViolations and MaxAuditLog carry the same bounded-growth caps as
	// protocol/registry.go, which declares and applies its own copies.
	// Before every write State applies MaxAuditLog to ConfidenceAlerts;
	// MaxViolations is not applied here.
	MaxViolations = 1000
	MaxAuditLog   = 5000

	stateFileMode = 0o600
	stateDirMode  = 0o700
)

// ErrNoSession documents the contract below: a missing or corrupt session
// file is not an error callers need to treat specially beyond "start
// fresh" — Load never returns it; it resolves internally to a nil Session.
var ErrNoSession = errors.New("feature: no session")

// Truncatable is implemented by anything State must bound the length of
// before persisting. The Protocol Registry's file lives separately
// (registry.json) and truncates itself the same way; State only bounds the
// arrays embedded directly in the Session document.
type Truncatable interface {
	TruncateBounded()
}

// Store is the atomic, crash-safe, file-backed home of one Session. It is
// the single logical actor every other component must route mutations
// through: load -> mutate -> save, never two partial saves for one logical
// change.
type Store struct {
	mu       sync.RWMutex
	path     string
	progress string
	logger   *slog.Logger

	session *Session
	monoSeq uint64
}

// NewStore creates a Store rooted at stateDir, which must already have been
// validated by pathsafe.ValidateProjectDir/ResolveInside by the caller.
func NewStore(stateDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:     filepath.Join(stateDir, "state.json"),
		progress: filepath.Join(stateDir, "progress.txt"),
		logger:   logger,
	}
}

// Load reads the session document from disk. A missing or corrupt file is
// treated as "no session" (nil, no error): a crashed session must never
// block re-initialisation.
func (s *Store) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.session = nil
			return nil, nil
		}
		return nil, fmt.Errorf("feature: read state file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn("feature: state file corrupt, treating as no session", "path", s.path, "error", err)
		s.session = nil
		return nil, nil
	}

	s.session = &sess
	return cloneSession(&sess), nil
}

// Save persists sess atomically: write to a monotonically-suffixed temp
// file, fsync, rename over the target; on any failure the temp file is
// removed. Bounded arrays are truncated before the write.
func (s *Store) Save(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.LastUpdated = time.Now().UTC()
	truncateBoundedArrays(sess)

	if err := os.MkdirAll(filepath.Dir(s.path), stateDirMode); err != nil {
		return fmt.Errorf("feature: create state directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("feature: marshal session: %w", err)
	}

	if err := s.atomicWrite(s.path, data); err != nil {
		return err
	}

	s.session = cloneSession(sess)
	s.mirrorProgress(sess)
	return nil
}

// Clear removes the session document and its progress mirror. A subsequent
// Load returns (nil, nil).
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = nil
	for _, p := range []string{s.path, s.progress} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("feature: clear %s: %w", p, err)
		}
	}
	return nil
}

// atomicWrite implements the tmp-fsync-rename contract shared by every
// file-backed component in this module (also used by sync/transport.go and
// protocol's registry persistence).
func (s *Store) atomicWrite(target string, data []byte) error {
	s.monoSeq++
	tmp := fmt.Sprintf("%s.tmp.%d", target, s.monoSeq)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, stateFileMode)
	if err != nil {
		return fmt.Errorf("feature: open temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("feature: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("feature: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("feature: close temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("feature: rename temp file: %w", err)
	}
	return nil
}

// WriteInitScript writes the generated bootstrap script alongside the
// session state; it is a side-channel writer, not part of the session
// document, so it bypasses the monotonic-temp dance used for state.json
// (no concurrent reader depends on it being atomic byte-for-byte).
func (s *Store) WriteInitScript(dir, contents string) error {
	path := filepath.Join(dir, "init.sh")
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		return fmt.Errorf("feature: write init script: %w", err)
	}
	return nil
}

// mirrorProgress writes the human-readable progress file after every save,
// built from lines already sanitised by Sanitize. Failures are logged, not propagated:
// the mirror is a convenience, not the durable record.
func (s *Store) mirrorProgress(sess *Session) {
	rendered := RenderProgressLog(sess)
	if err := os.WriteFile(s.progress, []byte(rendered), stateFileMode); err != nil {
		s.logger.Warn("feature: failed to mirror progress log", "error", err)
	}
}

func truncateBoundedArrays(sess *Session) {
	if len(sess.ConfidenceAlerts) > MaxAuditLog {
		sess.ConfidenceAlerts = sess.ConfidenceAlerts[len(sess.ConfidenceAlerts)-MaxAuditLog:]
	}
}

func cloneSession(sess *Session) *Session {
	data, err := json.Marshal(sess)
	if err != nil {
		return sess
	}
	var clone Session
	if err := json.Unmarshal(data, &clone); err != nil {
		return sess
	}
	return &clone
}
