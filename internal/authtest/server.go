// Package authtest runs an in-process authentication server that issues real
// HS256 tokens, counts calls and injects faults. It backs the module's tests and
// the loadtest command.
package authtest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goAuthClient/session"
	"github.com/MrEthical07/goAuthClient/token"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Options configures a [Server].
type Options struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RotateRefresh bool
	Secret        []byte
}

// Server is safe for concurrent use.
type Server struct {
	*httptest.Server

	secret        []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	rotateRefresh bool

	mu            sync.Mutex
	users         map[string]session.User
	activeRefresh map[string]string
	refreshStatus int
	verifyStatus  int
	refreshDelay  time.Duration
	denyAll       bool
	denyNext      int

	refreshCalls   atomic.Int64
	verifyCalls    atomic.Int64
	logoutCalls    atomic.Int64
	protectedCalls atomic.Int64
	publicCalls    atomic.Int64
}

// NewServer starts a server. Close it when done.
func NewServer(opts Options) *Server {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("authtest-secret")
	}

	s := &Server{
		secret:        opts.Secret,
		accessTTL:     opts.AccessTTL,
		refreshTTL:    opts.RefreshTTL,
		rotateRefresh: opts.RotateRefresh,
		users:         make(map[string]session.User),
		activeRefresh: make(map[string]string),
	}

	r := mux.NewRouter()
	r.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify", s.handleVerify).Methods(http.MethodGet)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.PathPrefix("/api/public").HandlerFunc(s.handlePublic)
	r.PathPrefix("/api/").HandlerFunc(s.handleProtected)

	s.Server = httptest.NewServer(r)
	return s
}

// AddUser registers the server-side view of a user.
func (s *Server) AddUser(u session.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// IssuePair mints a fresh access/refresh pair for userID, as a login would.
func (s *Server) IssuePair(userID string) session.Credentials {
	return session.Credentials{
		AccessToken:  s.MintAccess(userID, s.accessTTL),
		RefreshToken: s.mintRefresh(userID, s.refreshTTL),
	}
}

// MintAccess signs an access token for userID that expires after ttl. Negative
// ttl values produce already expired tokens.
func (s *Server) MintAccess(userID string, ttl time.Duration) string {
	s.mu.Lock()
	role := s.users[userID].Role
	s.mu.Unlock()
	if role == token.RoleUnknown {
		role = token.RoleCustomer
	}

	now := time.Now()
	return s.sign(jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"jti":  uuid.NewString(),
	})
}

// MintRefresh signs a refresh token for userID and marks it active.
func (s *Server) MintRefresh(userID string, ttl time.Duration) string {
	return s.mintRefresh(userID, ttl)
}

func (s *Server) mintRefresh(userID string, ttl time.Duration) string {
	jti := uuid.NewString()
	now := time.Now()
	raw := s.sign(jwt.MapClaims{
		"sub": userID,
		"typ": "refresh",
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": jti,
	})
	s.mu.Lock()
	s.activeRefresh[jti] = userID
	s.mu.Unlock()
	return raw
}

func (s *Server) sign(claims jwt.MapClaims) string {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic("authtest: sign token: " + err.Error())
	}
	return raw
}

// SetRefreshStatus forces every renewal to answer with status. Zero restores
// normal behaviour.
func (s *Server) SetRefreshStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus = status
}

// SetVerifyStatus forces every verification to answer with status. Zero restores
// normal behaviour.
func (s *Server) SetVerifyStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyStatus = status
}

// SetRefreshDelay slows renewal down so concurrent callers pile up behind it.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// DenyAll makes protected endpoints answer 401 regardless of the token.
func (s *Server) DenyAll(deny bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denyAll = deny
}

// DenyNext makes the next n protected requests answer 401 regardless of the token.
func (s *Server) DenyNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denyNext = n
}

func (s *Server) RefreshCalls() int   { return int(s.refreshCalls.Load()) }
func (s *Server) VerifyCalls() int    { return int(s.verifyCalls.Load()) }
func (s *Server) LogoutCalls() int    { return int(s.logoutCalls.Load()) }
func (s *Server) ProtectedCalls() int { return int(s.protectedCalls.Load()) }
func (s *Server) PublicCalls() int    { return int(s.publicCalls.Load()) }

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	s.mu.Lock()
	status, delay := s.refreshStatus, s.refreshDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		writeError(w, status, "forced failure")
		return
	}

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh token required")
		return
	}

	claims, err := s.parse(body.RefreshToken)
	if err != nil || claims["typ"] != "refresh" {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	jti, _ := claims["jti"].(string)
	subject, _ := claims["sub"].(string)

	s.mu.Lock()
	owner, active := s.activeRefresh[jti]
	if active && s.rotateRefresh {
		delete(s.activeRefresh, jti)
	}
	s.mu.Unlock()
	if !active || owner != subject {
		writeError(w, http.StatusUnauthorized, "refresh token revoked")
		return
	}

	resp := map[string]string{"accessToken": s.MintAccess(subject, s.accessTTL)}
	if s.rotateRefresh {
		resp["refreshToken"] = s.mintRefresh(subject, s.refreshTTL)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	s.verifyCalls.Add(1)

	s.mu.Lock()
	status := s.verifyStatus
	s.mu.Unlock()
	if status != 0 {
		writeError(w, status, "forced failure")
		return
	}

	subject, ok := s.authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	s.mu.Lock()
	u, known := s.users[subject]
	s.mu.Unlock()
	if !known {
		u = session.User{ID: subject, Role: token.RoleCustomer}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.logoutCalls.Add(1)

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if claims, err := s.parse(body.RefreshToken); err == nil {
		if jti, ok := claims["jti"].(string); ok {
			s.mu.Lock()
			delete(s.activeRefresh, jti)
			s.mu.Unlock()
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePublic(w http.ResponseWriter, r *http.Request) {
	s.publicCalls.Add(1)
	writeJSON(w, http.StatusOK, map[string]any{
		"path":          r.URL.Path,
		"authenticated": r.Header.Get("Authorization") != "",
	})
}

func (s *Server) handleProtected(w http.ResponseWriter, r *http.Request) {
	s.protectedCalls.Add(1)

	s.mu.Lock()
	deny := s.denyAll
	if !deny && s.denyNext > 0 {
		s.denyNext--
		deny = true
	}
	s.mu.Unlock()

	subject, ok := s.authenticate(r)
	if deny || !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var payload any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":       r.URL.Path,
		"subject":    subject,
		"request_id": r.Header.Get("X-Request-ID"),
		"echo":       payload,
	})
}

func (s *Server) authenticate(r *http.Request) (string, bool) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return "", false
	}
	claims, err := s.parse(raw)
	if err != nil || claims["typ"] == "refresh" {
		return "", false
	}
	subject, _ := claims["sub"].(string)
	return subject, subject != ""
}

func (s *Server) parse(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing algorithm")
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
