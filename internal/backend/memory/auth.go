package memory

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/xpresschat/xpress-chat/internal/backend"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

type account struct {
	uid          string
	email        string
	passwordHash []byte
	disabled     bool
}

// Auth is an in-process auth provider. It holds the account registry
// and, when used client-side, the current session.
type Auth struct {
	log *log.Logger

	mu        sync.Mutex
	byEmail   map[string]*account
	current   *backend.AuthUser
	listeners map[*authListener]struct{}
}

type authListener struct {
	fn backend.AuthStateFunc
}

func NewAuth(logger *log.Logger) *Auth {
	return &Auth{
		log:       logger,
		byEmail:   make(map[string]*account),
		listeners: make(map[*authListener]struct{}),
	}
}

func (a *Auth) CreateAccount(_ context.Context, email, password string) (backend.AuthUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return backend.AuthUser{}, backend.ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return backend.AuthUser{}, backend.ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return backend.AuthUser{}, err
	}

	a.mu.Lock()
	if _, exists := a.byEmail[email]; exists {
		a.mu.Unlock()
		return backend.AuthUser{}, backend.ErrEmailInUse
	}

	acct := &account{
		uid:          uuid.NewString(),
		email:        email,
		passwordHash: hash,
	}
	a.byEmail[email] = acct

	user := backend.AuthUser{UID: acct.uid, Email: acct.email}
	a.current = &user
	a.notifyLocked(&user)
	a.mu.Unlock()

	return user, nil
}

func (a *Auth) SignIn(_ context.Context, email, password string) (backend.AuthUser, error) {
	user, err := a.verify(email, password)
	if err != nil {
		return backend.AuthUser{}, err
	}

	a.mu.Lock()
	a.current = &user
	a.notifyLocked(&user)
	a.mu.Unlock()

	return user, nil
}

// VerifyCredentials checks an email/password pair without touching the
// session. Used by the gateway for login handling.
func (a *Auth) VerifyCredentials(_ context.Context, email, password string) (backend.AuthUser, error) {
	return a.verify(email, password)
}

func (a *Auth) verify(email, password string) (backend.AuthUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	a.mu.Lock()
	acct, ok := a.byEmail[email]
	a.mu.Unlock()

	if !ok {
		return backend.AuthUser{}, backend.ErrUserNotFound
	}
	if acct.disabled {
		return backend.AuthUser{}, backend.ErrUserDisabled
	}
	if bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(password)) != nil {
		return backend.AuthUser{}, backend.ErrWrongPassword
	}

	return backend.AuthUser{UID: acct.uid, Email: acct.email}, nil
}

// GetUser resolves an account by uid. Used by the gateway to validate
// session tokens.
func (a *Auth) GetUser(_ context.Context, uid string) (backend.AuthUser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, acct := range a.byEmail {
		if acct.uid == uid {
			return backend.AuthUser{UID: acct.uid, Email: acct.email}, nil
		}
	}
	return backend.AuthUser{}, backend.ErrUserNotFound
}

// DisableAccount marks an account disabled. Test hook for the
// ErrUserDisabled path.
func (a *Auth) DisableAccount(email string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if acct, ok := a.byEmail[strings.ToLower(email)]; ok {
		acct.disabled = true
	}
}

func (a *Auth) SignOut(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return nil
	}
	a.current = nil
	a.notifyLocked(nil)
	return nil
}

func (a *Auth) CurrentUser(_ context.Context) (*backend.AuthUser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return nil, nil
	}
	u := *a.current
	return &u, nil
}

func (a *Auth) OnAuthStateChange(fn backend.AuthStateFunc) *backend.Subscription {
	l := &authListener{fn: fn}

	a.mu.Lock()
	a.listeners[l] = struct{}{}
	a.mu.Unlock()

	return backend.NewSubscription(func() {
		a.mu.Lock()
		delete(a.listeners, l)
		a.mu.Unlock()
	})
}

// notifyLocked invokes listeners asynchronously so a listener may call
// back into the provider without deadlocking.
func (a *Auth) notifyLocked(user *backend.AuthUser) {
	for l := range a.listeners {
		var u *backend.AuthUser
		if user != nil {
			cp := *user
			u = &cp
		}
		go l.fn(u)
	}
}
