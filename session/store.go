package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Slot names in the backing store.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"

	// keyLegacyAccessToken duplicated the access token in older releases.
	// Read-only: see TokenStore.Load.
	keyLegacyAccessToken = "token"
)

// TokenStore is the only component that mutates persisted credentials.
// It is safe for concurrent use.
type TokenStore struct {
	backend Backend
	logger  *slog.Logger

	mu         sync.RWMutex
	generation uint64
}

// NewTokenStore wraps backend. A nil logger falls back to slog.Default.
func NewTokenStore(backend Backend, logger *slog.Logger) *TokenStore {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenStore{backend: backend, logger: logger}
}

// Generation returns a counter that changes on every write or clear.
func (s *TokenStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Store persists both tokens in one backend write and returns the new generation.
func (s *TokenStore) Store(ctx context.Context, creds Credentials) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeLocked(ctx, creds)
	return s.generation
}

// StoreIfGeneration persists creds only when no write or clear happened since gen
// was observed. It reports whether the write was applied.
func (s *TokenStore) StoreIfGeneration(ctx context.Context, gen uint64, creds Credentials) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false
	}
	s.storeLocked(ctx, creds)
	return true
}

func (s *TokenStore) storeLocked(ctx context.Context, creds Credentials) {
	s.generation++
	values := map[string]string{
		KeyAccessToken:  creds.AccessToken,
		KeyRefreshToken: creds.RefreshToken,
	}
	if err := s.backend.SetMany(ctx, values); err != nil {
		s.logger.Warn("goAuthClient: credential write failed", "error", err)
	}
}

// Load returns the persisted pair. ok is false when neither token is present.
func (s *TokenStore) Load(ctx context.Context) (Credentials, bool) {
	s.mu.RLock()
	creds := Credentials{
		AccessToken:  s.get(ctx, KeyAccessToken),
		RefreshToken: s.get(ctx, KeyRefreshToken),
	}
	s.mu.RUnlock()

	if creds.AccessToken == "" {
		if legacy := s.promoteLegacyAccess(ctx); legacy != "" {
			creds.AccessToken = legacy
		}
	}
	return creds, !creds.Empty()
}

// promoteLegacyAccess is the single read path for the legacy slot. A value found
// there is moved into the canonical slot and the legacy key is removed.
func (s *TokenStore) promoteLegacyAccess(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.get(ctx, KeyAccessToken); current != "" {
		return current
	}
	legacy := s.get(ctx, keyLegacyAccessToken)
	if legacy == "" {
		return ""
	}
	if err := s.backend.SetMany(ctx, map[string]string{KeyAccessToken: legacy}); err != nil {
		s.logger.Warn("goAuthClient: legacy token promotion failed", "error", err)
		return legacy
	}
	if err := s.backend.Remove(ctx, keyLegacyAccessToken); err != nil {
		s.logger.Warn("goAuthClient: legacy token removal failed", "error", err)
	}
	s.logger.Info("goAuthClient: migrated legacy access token slot")
	return legacy
}

// Clear removes both tokens, the user snapshot and the legacy slot. Idempotent.
func (s *TokenStore) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(ctx)
}

// ClearIfGeneration clears only when nothing was written since gen was observed,
// so a failure noticed late cannot wipe a session established in the meantime.
func (s *TokenStore) ClearIfGeneration(ctx context.Context, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false
	}
	s.clearLocked(ctx)
	return true
}

func (s *TokenStore) clearLocked(ctx context.Context) {
	s.generation++
	if err := s.backend.Remove(ctx, KeyAccessToken, KeyRefreshToken, KeyUser, keyLegacyAccessToken); err != nil {
		s.logger.Warn("goAuthClient: credential clear failed", "error", err)
	}
}

// SaveUser replaces the cached user snapshot.
func (s *TokenStore) SaveUser(ctx context.Context, u User) {
	data, err := EncodeUser(u)
	if err != nil {
		s.logger.Warn("goAuthClient: user snapshot encode failed", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.SetMany(ctx, map[string]string{KeyUser: string(data)}); err != nil {
		s.logger.Warn("goAuthClient: user snapshot write failed", "error", err)
	}
}

// SaveUserIfSession writes the snapshot only while credentials are persisted,
// so a background reconciliation that finishes after a logout writes nothing.
func (s *TokenStore) SaveUserIfSession(ctx context.Context, u User) bool {
	data, err := EncodeUser(u)
	if err != nil {
		s.logger.Warn("goAuthClient: user snapshot encode failed", "error", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.get(ctx, KeyAccessToken) == "" && s.get(ctx, KeyRefreshToken) == "" {
		return false
	}
	if err := s.backend.SetMany(ctx, map[string]string{KeyUser: string(data)}); err != nil {
		s.logger.Warn("goAuthClient: user snapshot write failed", "error", err)
	}
	return true
}

// LoadUser returns the cached user snapshot. Snapshots that fail to decode are
// reported as absent. Legacy-format snapshots are rewritten in the current format.
func (s *TokenStore) LoadUser(ctx context.Context) (User, bool) {
	s.mu.RLock()
	raw := s.get(ctx, KeyUser)
	s.mu.RUnlock()
	if raw == "" {
		return User{}, false
	}

	u, version, err := DecodeUser([]byte(raw))
	if err != nil {
		s.logger.Warn("goAuthClient: discarding unreadable user snapshot", "error", err)
		return User{}, false
	}
	if version != userFormatVersionCurrent {
		s.SaveUser(ctx, u)
	}
	return u, true
}

func (s *TokenStore) get(ctx context.Context, key string) string {
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn("goAuthClient: credential read failed", "slot", key, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}
