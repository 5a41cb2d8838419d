// Package fakebackend is an in-process implementation of the portal's auth
// HTTP API. It backs tests and the CLI demo mode. It issues real HS256 JWTs,
// keeps users in memory and lets callers inject failures and hold requests.
package fakebackend

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/campuskeeper/internal/client/models"
	"github.com/dmitrijs2005/campuskeeper/internal/common"
	"github.com/dmitrijs2005/campuskeeper/internal/cryptox"
	"github.com/dmitrijs2005/campuskeeper/internal/logging"
)

// DefaultCode is the TOTP code the fake accepts unless changed with SetValidCode.
const DefaultCode = "123456"

const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

type user struct {
	identity      models.Identity
	password      cryptox.PasswordHash
	pendingSecret string
}

type failure struct {
	status int
	detail string
}

type hold struct {
	ch   chan struct{}
	once sync.Once
}

func (h *hold) release() { h.once.Do(func() { close(h.ch) }) }

type Server struct {
	srv      *httptest.Server
	secret   []byte
	tokenTTL time.Duration
	logger   logging.Logger

	mu        sync.Mutex
	byEmail   map[string]*user
	byID      map[string]*user
	epoch     int
	validCode string
	calls     map[string]int
	failures  map[string][]failure
	holds     map[string]*hold
}

type Option func(*Server)

func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) { s.tokenTTL = d }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New starts a fake backend on a loopback port.
func New(opts ...Option) *Server {
	s := NewUnstarted(opts...)
	s.srv = httptest.NewServer(s.Handler())
	return s
}

// NewUnstarted builds the fake without listening; use Handler to mount it.
func NewUnstarted(opts ...Option) *Server {
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)

	s := &Server{
		secret:    secret,
		tokenTTL:  time.Hour,
		logger:    logging.NewNopLogger(),
		byEmail:   make(map[string]*user),
		byID:      make(map[string]*user),
		validCode: DefaultCode,
		calls:     make(map[string]int),
		failures:  make(map[string][]failure),
		holds:     make(map[string]*hold),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// URL returns the base address of the started server.
func (s *Server) URL() string {
	if s.srv == nil {
		return ""
	}
	return s.srv.URL
}

func (s *Server) Close() {
	s.mu.Lock()
	for p, h := range s.holds {
		h.release()
		delete(s.holds, p)
	}
	s.mu.Unlock()

	if s.srv != nil {
		s.srv.Close()
	}
}

// Handler returns the HTTP handler serving the auth API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("GET /auth/me", s.authenticated(s.handleMe))
	mux.HandleFunc("POST /auth/2fa/enable", s.authenticated(s.handleEnable))
	mux.HandleFunc("POST /auth/2fa/verify-setup", s.authenticated(s.handleVerifySetup))
	mux.HandleFunc("POST /auth/2fa/disable", s.authenticated(s.handleDisable))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return s.intercept(mux)
}

// AddUser seeds an account and returns its identity.
func (s *Server) AddUser(email, password, fullName string, role models.Role) models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(email, password, fullName, role).identity
}

func (s *Server) addUserLocked(email, password, fullName string, role models.Role) *user {
	u := &user{
		identity: models.Identity{
			ID:          uuid.NewString(),
			Email:       email,
			DisplayName: fullName,
			Role:        role,
			Active:      true,
		},
	}
	// Empty passwords only come from AddUser; such users cannot log in.
	if h, err := cryptox.HashPassword([]byte(password)); err == nil {
		u.password = h
	}
	s.byEmail[strings.ToLower(email)] = u
	s.byID[u.identity.ID] = u
	return u
}

// Identity returns the stored identity for email.
func (s *Server) Identity(email string) (models.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return models.Identity{}, false
	}
	return u.identity, true
}

// IssueToken returns a valid token for email without a login call.
func (s *Server) IssueToken(email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return "", fmt.Errorf("fakebackend: unknown user %q", email)
	}
	return GenerateToken(u.identity.ID, s.epoch, s.secret, s.tokenTTL)
}

// RevokeAll invalidates every token issued so far.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	s.epoch++
	s.mu.Unlock()
}

func (s *Server) SetValidCode(code string) {
	s.mu.Lock()
	s.validCode = code
	s.mu.Unlock()
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// FailNext makes the next request to path answer status with detail.
// Failures queue up in call order.
func (s *Server) FailNext(path string, status int, detail string) {
	s.mu.Lock()
	s.failures[path] = append(s.failures[path], failure{status: status, detail: detail})
	s.mu.Unlock()
}

// Hold blocks requests to path until the returned release func is called.
func (s *Server) Hold(path string) (release func()) {
	h := &hold{ch: make(chan struct{})}
	s.mu.Lock()
	if prev := s.holds[path]; prev != nil {
		prev.release()
	}
	s.holds[path] = h
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if s.holds[path] == h {
			delete(s.holds, path)
		}
		s.mu.Unlock()
		h.release()
	}
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		s.mu.Lock()
		s.calls[path]++
		h := s.holds[path]
		var f *failure
		if q := s.failures[path]; len(q) > 0 {
			f = &q[0]
			s.failures[path] = q[1:]
		}
		s.mu.Unlock()

		s.logger.Debug(r.Context(), "fake backend request", "method", r.Method, "path", path,
			"request_id", r.Header.Get(common.RequestIDHeaderName))

		if h != nil {
			select {
			case <-h.ch:
			case <-r.Context().Done():
				return
			}
		}

		if f != nil {
			writeDetail(w, f.status, f.detail)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey string

const userIDKey ctxKey = "userID"

func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get(common.AuthorizationHeaderName)
		tok, ok := strings.CutPrefix(h, common.BearerScheme+" ")
		if !ok || tok == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		claims, err := ParseToken(tok, s.secret)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		s.mu.Lock()
		_, known := s.byID[claims.UserID]
		stale := claims.Epoch != s.epoch
		s.mu.Unlock()
		if !known || stale {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, claims.UserID)))
	}
}

func (s *Server) currentUser(r *http.Request) *user {
	id, _ := r.Context().Value(userIDKey).(string)
	return s.byID[id]
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.Lock()
	u, ok := s.byEmail[strings.ToLower(req.Email)]
	if !ok || !u.password.Verify([]byte(req.Password)) {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Incorrect email or password")
		return
	}
	identity := u.identity
	tok, err := GenerateToken(identity.ID, s.epoch, s.secret, s.tokenTTL)
	s.mu.Unlock()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResult{AccessToken: tok, TokenType: "bearer", User: &identity})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]string{{"msg": "email and password are required"}},
		})
		return
	}

	role := req.Role
	if role == models.RoleUnknown {
		role = models.RoleStudent
	}
	if !role.Valid() {
		writeDetail(w, http.StatusBadRequest, "Invalid role")
		return
	}

	s.mu.Lock()
	if _, exists := s.byEmail[strings.ToLower(req.Email)]; exists {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	u := s.addUserLocked(req.Email, req.Password, req.DisplayName, role)
	identity := u.identity
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, identity)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	identity := s.currentUser(r).identity
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, identity)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u := s.currentUser(r)
	if u.identity.TwoFactorEnabled {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "2FA already enabled")
		return
	}
	u.pendingSecret = newSecret()
	secret, email := u.pendingSecret, u.identity.Email
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, models.TwoFactorSecret{
		Secret: secret,
		QRURL:  fmt.Sprintf("otpauth://totp/Campus:%s?secret=%s&issuer=Campus", email, secret),
	})
}

func (s *Server) handleVerifySetup(w http.ResponseWriter, r *http.Request) {
	code, ok := decodeCode(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.currentUser(r)
	if u.pendingSecret == "" {
		writeDetail(w, http.StatusBadRequest, "2FA setup not started")
		return
	}
	if code != s.validCode {
		writeDetail(w, http.StatusBadRequest, "Invalid 2FA code")
		return
	}
	u.pendingSecret = ""
	u.identity.TwoFactorEnabled = true
	writeJSON(w, http.StatusOK, map[string]string{"message": "2FA enabled"})
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	code, ok := decodeCode(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.currentUser(r)
	if !u.identity.TwoFactorEnabled {
		writeDetail(w, http.StatusBadRequest, "2FA is not enabled")
		return
	}
	if code != s.validCode {
		writeDetail(w, http.StatusBadRequest, "Invalid 2FA code")
		return
	}
	u.identity.TwoFactorEnabled = false
	w.WriteHeader(http.StatusNoContent)
}

func decodeCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req models.TwoFactorCode
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return "", false
	}
	return req.Code, true
}

func newSecret() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = base32Alphabet[int(b[i])%len(base32Alphabet)]
	}
	return string(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
