package qmsapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// CreateContact submits the public contact form. No session is needed.
func (c *Client) CreateContact(ctx context.Context, msg ContactSubmission) (*ContactSubmission, error) {
	var out ContactSubmission
	err := c.doJSON(ctx, call{
		name:   "contact_create",
		method: http.MethodPost,
		path:   "/contact/create/",
		body:   msg,
		out:    &out,
	}, "")
	if err != nil {
		return nil, fmt.Errorf("create contact message: %w", err)
	}
	return &out, nil
}

// Contacts lists every contact submission (staff only).
func (a *AuthClient) Contacts(ctx context.Context) ([]ContactSubmission, error) {
	var list listOf[ContactSubmission]
	if err := a.do(ctx, call{name: "contact_all", method: http.MethodGet, path: "/contact/all/", out: &list}); err != nil {
		return nil, fmt.Errorf("list contact messages: %w", err)
	}
	return list.Items, nil
}

// ToggleContact flips the resolved flag and returns the stored message.
func (a *AuthClient) ToggleContact(ctx context.Context, id int64) (*ContactSubmission, error) {
	var out ContactSubmission
	err := a.do(ctx, call{
		name:   "contact_toggle",
		method: http.MethodPatch,
		path:   "/contact/toggle/" + strconv.FormatInt(id, 10) + "/",
		out:    &out,
	})
	if err != nil {
		return nil, fmt.Errorf("toggle contact message %d: %w", id, err)
	}
	return &out, nil
}
