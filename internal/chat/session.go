package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/xpresschat/xpress-chat/internal/backend"
)

const minPasswordLength = 6

const sessionFileName = "session.json"

// ErrMissingCredentials is returned when email or password is empty.
var ErrMissingCredentials = errors.New("email and password are required")

// SessionStore wraps the auth provider and persists a minimal session
// record locally so a restart can re-resolve identity.
type SessionStore struct {
	auth     backend.AuthProvider
	stateDir string
	log      *log.Logger
}

type sessionRecord struct {
	UID   string `json:"uid"`
	Email string `json:"userEmail"`
}

func NewSessionStore(auth backend.AuthProvider, stateDir string, logger *log.Logger) *SessionStore {
	return &SessionStore{auth: auth, stateDir: stateDir, log: logger}
}

// Register creates a new account. Credentials are validated locally
// before any remote call.
func (s *SessionStore) Register(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", ErrMissingCredentials
	}
	if !strings.Contains(email, "@") {
		return "", backend.ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return "", backend.ErrWeakPassword
	}

	user, err := s.auth.CreateAccount(ctx, email, password)
	if err != nil {
		return "", fmt.Errorf("create account: %w", err)
	}

	s.persist(user)
	return user.UID, nil
}

// Login authenticates an existing account.
func (s *SessionStore) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", ErrMissingCredentials
	}

	user, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return "", fmt.Errorf("sign in: %w", err)
	}

	s.persist(user)
	return user.UID, nil
}

// CurrentUser reflects the authoritative provider state, not the local
// cache.
func (s *SessionStore) CurrentUser(ctx context.Context) (*backend.AuthUser, error) {
	return s.auth.CurrentUser(ctx)
}

// CachedSession returns the locally persisted session record, if any.
func (s *SessionStore) CachedSession() (uid, email string, ok bool) {
	data, err := os.ReadFile(s.sessionPath())
	if err != nil {
		return "", "", false
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.UID == "" {
		return "", "", false
	}
	return rec.UID, rec.Email, true
}

// Logout signs out of the provider and erases the local session
// record. Callers must tear down dependent subscriptions and mark the
// user offline before calling this.
func (s *SessionStore) Logout(ctx context.Context) error {
	err := s.auth.SignOut(ctx)
	s.clear()
	return err
}

// OnAuthStateChange registers a listener for provider-driven session
// transitions.
func (s *SessionStore) OnAuthStateChange(fn backend.AuthStateFunc) *backend.Subscription {
	return s.auth.OnAuthStateChange(fn)
}

func (s *SessionStore) persist(user backend.AuthUser) {
	data, err := json.Marshal(sessionRecord{UID: user.UID, Email: user.Email})
	if err != nil {
		s.log.Println("marshal session:", err)
		return
	}

	if err := os.MkdirAll(s.stateDir, 0o700); err != nil {
		s.log.Println("create state dir:", err)
		return
	}
	if err := os.WriteFile(s.sessionPath(), data, 0o600); err != nil {
		s.log.Println("write session:", err)
	}
}

func (s *SessionStore) clear() {
	if err := os.Remove(s.sessionPath()); err != nil && !os.IsNotExist(err) {
		s.log.Println("remove session:", err)
	}
}

func (s *SessionStore) sessionPath() string {
	return filepath.Join(s.stateDir, sessionFileName)
}
