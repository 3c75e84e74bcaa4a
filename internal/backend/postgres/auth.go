package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xpresschat/xpress-chat/internal/backend"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

// Auth is the server-side account registry. It implements the
// gateway's AccountStore; client sessions are the remote SDK's
// concern.
type Auth struct {
	log *log.Logger
	db  *sql.DB
}

func NewAuth(db *sql.DB, logger *log.Logger) *Auth {
	return &Auth{log: logger, db: db}
}

// NewAuthFromStore shares the store's database handle.
func NewAuthFromStore(s *Store, logger *log.Logger) *Auth {
	return &Auth{log: logger, db: s.db}
}

func (a *Auth) CreateAccount(ctx context.Context, email, password string) (backend.AuthUser, error) {
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

	uid := uuid.NewString()
	_, err = a.db.ExecContext(ctx,
		"INSERT INTO accounts (uid, email, password_hash) VALUES ($1, $2, $3)",
		uid, email, string(hash),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return backend.AuthUser{}, backend.ErrEmailInUse
		}
		return backend.AuthUser{}, err
	}

	return backend.AuthUser{UID: uid, Email: email}, nil
}

func (a *Auth) VerifyCredentials(ctx context.Context, email, password string) (backend.AuthUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	row := a.db.QueryRowContext(ctx,
		"SELECT uid, email, password_hash, disabled FROM accounts WHERE email = $1 LIMIT 1",
		email,
	)

	var (
		user     backend.AuthUser
		hash     string
		disabled bool
	)
	if err := row.Scan(&user.UID, &user.Email, &hash, &disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return backend.AuthUser{}, backend.ErrUserNotFound
		}
		return backend.AuthUser{}, err
	}

	if disabled {
		return backend.AuthUser{}, backend.ErrUserDisabled
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return backend.AuthUser{}, backend.ErrWrongPassword
	}

	return user, nil
}

func (a *Auth) GetUser(ctx context.Context, uid string) (backend.AuthUser, error) {
	row := a.db.QueryRowContext(ctx,
		"SELECT uid, email FROM accounts WHERE uid = $1 LIMIT 1",
		uid,
	)

	var user backend.AuthUser
	if err := row.Scan(&user.UID, &user.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return backend.AuthUser{}, backend.ErrUserNotFound
		}
		return backend.AuthUser{}, err
	}

	return user, nil
}
