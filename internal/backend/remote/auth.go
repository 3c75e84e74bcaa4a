package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/xpresschat/xpress-chat/internal/backend"
	"github.com/xpresschat/xpress-chat/internal/wire"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type apiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Code       string `json:"code"`
}

func (c *Client) CreateAccount(ctx context.Context, email, password string) (backend.AuthUser, error) {
	return c.authRequest(ctx, "/api/auth/register", email, password)
}

func (c *Client) SignIn(ctx context.Context, email, password string) (backend.AuthUser, error) {
	return c.authRequest(ctx, "/api/auth/login", email, password)
}

func (c *Client) authRequest(ctx context.Context, path, email, password string) (backend.AuthUser, error) {
	body, err := json.Marshal(credentialsRequest{Email: email, Password: password})
	if err != nil {
		return backend.AuthUser{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return backend.AuthUser{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return backend.AuthUser{}, fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return backend.AuthUser{}, decodeApiError(resp)
	}

	var user backend.AuthUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return backend.AuthUser{}, fmt.Errorf("decode auth response: %w", err)
	}

	c.mu.Lock()
	c.current = &user
	c.notifyLocked(&user)
	c.mu.Unlock()

	return user, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/auth/logout"), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err == nil {
		resp.Body.Close()
	} else {
		c.log.Println("logout request:", err)
	}

	c.Close()

	c.mu.Lock()
	signedIn := c.current != nil
	c.current = nil
	if signedIn {
		c.notifyLocked(nil)
	}
	c.mu.Unlock()

	return nil
}

// CurrentUser asks the gateway, not the local cache, whether the
// session cookie still resolves to a user.
func (c *Client) CurrentUser(ctx context.Context) (*backend.AuthUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/auth/session"), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, decodeApiError(resp)
	}

	var user backend.AuthUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}

	c.mu.Lock()
	c.current = &user
	c.mu.Unlock()

	return &user, nil
}

func (c *Client) OnAuthStateChange(fn backend.AuthStateFunc) *backend.Subscription {
	l := &listener{fn: fn}

	c.mu.Lock()
	c.listeners[l] = struct{}{}
	c.mu.Unlock()

	return backend.NewSubscription(func() {
		c.mu.Lock()
		delete(c.listeners, l)
		c.mu.Unlock()
	})
}

func (c *Client) notifyLocked(user *backend.AuthUser) {
	for l := range c.listeners {
		var u *backend.AuthUser
		if user != nil {
			cp := *user
			u = &cp
		}
		go l.fn(u)
	}
}

func decodeApiError(resp *http.Response) error {
	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil {
		if mapped := wire.ErrorFromCode(apiErr.Code); mapped != nil {
			return mapped
		}
		if apiErr.Message != "" {
			return fmt.Errorf("remote error (%d): %s", resp.StatusCode, apiErr.Message)
		}
	}
	return fmt.Errorf("remote error (%d)", resp.StatusCode)
}
