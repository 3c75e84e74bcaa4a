package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/xpresschat/xpress-chat/internal/backend"
	"github.com/xpresschat/xpress-chat/internal/wire"
)

var (
	defaultExp     = time.Hour * 24
	tokenCookieKey = "token"
)

const (
	uidClaim = "uid"
	expClaim = "exp"
)

type contextKey string

const userKey contextKey = "user"

// AccountStore is the server-side account surface behind the auth
// endpoints. Distinct from backend.AuthProvider: the gateway holds no
// client session of its own.
type AccountStore interface {
	CreateAccount(ctx context.Context, email, password string) (backend.AuthUser, error)
	VerifyCredentials(ctx context.Context, email, password string) (backend.AuthUser, error)
	GetUser(ctx context.Context, uid string) (backend.AuthUser, error)
}

type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func AuthedUser(ctx context.Context) (backend.AuthUser, bool) {
	user, ok := ctx.Value(userKey).(backend.AuthUser)
	return user, ok
}

func WithAuthedUser(ctx context.Context, user backend.AuthUser) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func (g *Gateway) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenCookie, err := r.Cookie(tokenCookieKey)
		if err != nil {
			errResp := NewUnauthorizedError("")
			g.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		uid, err := g.extractUidFromToken(tokenCookie.Value)
		if err != nil {
			g.log.Printf("failed to extract uid from token: %v", err)
			errResp := NewUnauthorizedError("")
			g.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		user, err := g.accounts.GetUser(r.Context(), uid)
		if err != nil {
			errResp := NewUnauthorizedError("")
			g.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		ctx := WithAuthedUser(r.Context(), user)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}

func (g *Gateway) register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("")
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError("")
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := g.accounts.CreateAccount(r.Context(), req.Email, req.Password)
	if err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, backend.ErrEmailInUse):
			errResp = NewConflictError(wire.CodeEmailInUse)
		case errors.Is(err, backend.ErrInvalidEmail), errors.Is(err, backend.ErrWeakPassword):
			errResp = NewBadRequestError(wire.ErrorCode(err))
		default:
			errResp = NewInternalServerError(err)
		}
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := g.createJwtForSession(user, defaultExp)
	if err != nil {
		errResp := NewInternalServerError(err)
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultExp))
	g.writeJson(w, http.StatusCreated, user)
}

func (g *Gateway) login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("")
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := g.accounts.VerifyCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, backend.ErrUserNotFound), errors.Is(err, backend.ErrWrongPassword):
			errResp = NewUnauthorizedError(wire.ErrorCode(err))
		case errors.Is(err, backend.ErrUserDisabled):
			errResp = NewForbiddenError(wire.CodeUserDisabled)
		default:
			errResp = NewInternalServerError(err)
		}
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := g.createJwtForSession(user, defaultExp)
	if err != nil {
		errResp := NewInternalServerError(err)
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultExp))
	g.writeJson(w, http.StatusOK, user)
}

func (g *Gateway) session(w http.ResponseWriter, r *http.Request) {
	user, ok := AuthedUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError("")
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	g.writeJson(w, http.StatusOK, user)
}

func (g *Gateway) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct the client to delete the cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func (g *Gateway) createJwtForSession(user backend.AuthUser, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		uidClaim: user.UID,
		expClaim: time.Now().Add(exp).Unix(),
	})

	return token.SignedString(g.signingKey)
}

func (g *Gateway) extractUidFromToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return g.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	uid, ok := claims[uidClaim].(string)
	if !ok || uid == "" {
		return "", fmt.Errorf("invalid uid claim")
	}

	return uid, nil
}
