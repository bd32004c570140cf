package qmsapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	// ErrSessionExpired is returned when the access token was rejected and
	// could not be renewed. Both tokens have been cleared by then.
	ErrSessionExpired = errors.New("qmsapi: session expired")
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("qmsapi: not found")
)

// APIError is a non-2xx backend response.
type APIError struct {
	Status int
	Path   string
	Body   []byte

	fields map[string]json.RawMessage
	parsed bool
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(string(e.Body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return fmt.Sprintf("qmsapi: %s returned %d: %s", e.Path, e.Status, msg)
}

// Is lets errors.Is match ErrNotFound on 404s.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

func (e *APIError) object() map[string]json.RawMessage {
	if !e.parsed {
		e.parsed = true
		_ = json.Unmarshal(e.Body, &e.fields)
	}
	return e.fields
}

func (e *APIError) stringField(name string) string {
	raw, ok := e.object()[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// Detail returns the body's "detail" string.
func (e *APIError) Detail() string { return e.stringField("detail") }

// Message returns the body's "message" string.
func (e *APIError) Message() string { return e.stringField("message") }

// ErrorText returns the body's "error" string.
func (e *APIError) ErrorText() string { return e.stringField("error") }

// FieldMessages flattens every top-level value that is a string or a list
// of strings. Keys are visited in sorted order.
func (e *APIError) FieldMessages() []string {
	return flattenMessages(e.object())
}

// NestedErrors flattens the body's "errors" object the same way.
func (e *APIError) NestedErrors() []string {
	raw, ok := e.object()["errors"]
	if !ok {
		return nil
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil
	}
	return flattenMessages(nested)
}

func flattenMessages(obj map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		raw := obj[k]
		var single string
		if err := json.Unmarshal(raw, &single); err == nil {
			if single = strings.TrimSpace(single); single != "" {
				out = append(out, single)
			}
			continue
		}
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			for _, item := range list {
				if item = strings.TrimSpace(item); item != "" {
					out = append(out, item)
				}
			}
		}
	}
	return out
}

// Picker extracts a user-facing message from a backend error body.
type Picker func(*APIError) string

var (
	PickDetail  Picker = (*APIError).Detail
	PickMessage Picker = (*APIError).Message
	PickError   Picker = (*APIError).ErrorText
)

// JoinFields builds a picker that joins FieldMessages with sep.
func JoinFields(sep string) Picker {
	return func(e *APIError) string { return strings.Join(e.FieldMessages(), sep) }
}

// JoinNested builds a picker that joins NestedErrors with sep.
func JoinNested(sep string) Picker {
	return func(e *APIError) string { return strings.Join(e.NestedErrors(), sep) }
}

// UserMessage returns the first non-empty message produced by pickers for
// an *APIError in err's chain, else fallback.
func UserMessage(err error, fallback string, pickers ...Picker) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return fallback
	}
	for _, pick := range pickers {
		if msg := pick(apiErr); msg != "" {
			return msg
		}
	}
	return fallback
}
