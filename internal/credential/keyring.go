package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/99designs/keyring"
)

const (
	serviceName = "sitenotify"
	sessionKey  = "session"
)

// ErrNoCredential is returned when no session is stored. Callers treat it
// as "skip this cycle", not as a failure to retry.
var ErrNoCredential = errors.New("no credential stored")

// ErrSessionExpired is returned by Token when the stored token's expiry has
// passed. Callers handle it like a 401 from the backend.
var ErrSessionExpired = errors.New("session expired")

// OpenKeyring returns the OS keyring configured for sitenotify.
func OpenKeyring(dir string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("sitenotify-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Store keeps the session in the keyring and touches a marker file on every
// change so that other processes can observe logins and logouts.
type Store struct {
	ring   keyring.Keyring
	marker string
	now    func() time.Time

	mu     sync.Mutex
	cached *Session
	loaded bool
}

// NewStore wraps ring. markerFile may be empty to disable change signaling.
func NewStore(ring keyring.Keyring, markerFile string) *Store {
	return &Store{ring: ring, marker: markerFile, now: time.Now}
}

// MarkerFile returns the path touched on session changes.
func (s *Store) MarkerFile() string {
	return s.marker
}

// Session returns the current session or ErrNoCredential.
func (s *Store) Session() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.loadLocked(); err != nil {
			return Session{}, err
		}
	}
	if s.cached == nil {
		return Session{}, ErrNoCredential
	}
	return *s.cached, nil
}

// Token returns the bearer token of the current session, or
// ErrSessionExpired once the token's own expiry has passed.
func (s *Store) Token() (string, error) {
	sess, err := s.Session()
	if err != nil {
		return "", err
	}
	if sess.Expired(s.now()) {
		return "", ErrSessionExpired
	}
	return sess.Token, nil
}

// Refresh drops the cached session so the next read hits the keyring.
func (s *Store) Refresh() {
	s.mu.Lock()
	s.loaded = false
	s.cached = nil
	s.mu.Unlock()
}

func (s *Store) loadLocked() error {
	item, err := s.ring.Get(sessionKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			s.loaded = true
			s.cached = nil
			return nil
		}
		return fmt.Errorf("getting credential %q: %w", sessionKey, err)
	}

	var sess Session
	if err := json.Unmarshal(item.Data, &sess); err != nil {
		return fmt.Errorf("decoding credential %q: %w", sessionKey, err)
	}
	s.loaded = true
	if strings.TrimSpace(sess.Token) == "" {
		s.cached = nil
		return nil
	}
	s.cached = &sess
	return nil
}

// Save stores sess in the keyring and signals the change.
func (s *Store) Save(sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	s.mu.Lock()
	err = s.ring.Set(keyring.Item{
		Key:  sessionKey,
		Data: data,
	})
	if err == nil {
		s.cached = &sess
		s.loaded = true
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("setting credential %q: %w", sessionKey, err)
	}
	return s.touch()
}

// Clear removes the session, e.g. after a 401 or an explicit logout.
func (s *Store) Clear() error {
	s.mu.Lock()
	err := s.ring.Remove(sessionKey)
	s.cached = nil
	s.loaded = true
	s.mu.Unlock()

	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", sessionKey, err)
	}
	return s.touch()
}

// touch updates the marker file's contents so watchers see a write.
func (s *Store) touch() error {
	if s.marker == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.marker), 0o700); err != nil {
		return fmt.Errorf("creating session marker directory: %w", err)
	}
	stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if err := os.WriteFile(s.marker, stamp, 0o600); err != nil {
		return fmt.Errorf("writing session marker: %w", err)
	}
	return nil
}
