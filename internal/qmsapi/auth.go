package qmsapi

import (
	"context"
	"fmt"
	"net/http"
)

// Login exchanges credentials for a user and token pair.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var resp AuthResponse
	err := c.doJSON(ctx, call{
		name:   "auth_login",
		method: http.MethodPost,
		path:   "/auth/login/",
		body:   req,
		out:    &resp,
	}, "")
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &resp, nil
}

// Register creates a citizen account and signs it in.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	var resp AuthResponse
	err := c.doJSON(ctx, call{
		name:   "auth_register",
		method: http.MethodPost,
		path:   "/auth/register/",
		body:   req,
		out:    &resp,
	}, "")
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &resp, nil
}

// Profile returns the signed-in user.
func (a *AuthClient) Profile(ctx context.Context) (*User, error) {
	var user User
	if err := a.do(ctx, call{name: "auth_profile", method: http.MethodGet, path: "/auth/profile/", out: &user}); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &user, nil
}

// UpdateProfile saves profile edits and returns the stored user.
func (a *AuthClient) UpdateProfile(ctx context.Context, update ProfileUpdate) (*User, error) {
	var user User
	err := a.do(ctx, call{
		name:   "auth_profile_update",
		method: http.MethodPut,
		path:   "/auth/profile/update/",
		body:   update,
		out:    &user,
	})
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return &user, nil
}

// ChangePassword replaces the account password.
func (a *AuthClient) ChangePassword(ctx context.Context, req PasswordChange) error {
	err := a.do(ctx, call{
		name:   "auth_password_change",
		method: http.MethodPost,
		path:   "/auth/password/change/",
		body:   req,
	})
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}
