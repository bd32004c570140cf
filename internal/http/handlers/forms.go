package handlers

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// FieldErrors maps form field names to inline messages.
type FieldErrors map[string]string

func (fe FieldErrors) add(field, message string) {
	if _, exists := fe[field]; !exists {
		fe[field] = message
	}
}

// Any reports whether any field failed.
func (fe FieldErrors) Any() bool { return len(fe) > 0 }

var emailPattern = regexp.MustCompile(`^\S+@\S+$`)

const specialChars = `!@#$%^&*(),.?":{}|<>`

// PasswordStrength lists which strength rules a password meets.
type PasswordStrength struct {
	MinLength bool
	Upper     bool
	Lower     bool
	Digit     bool
	Special   bool
}

// Strong is true when every rule holds.
func (s PasswordStrength) Strong() bool {
	return s.MinLength && s.Upper && s.Lower && s.Digit && s.Special
}

// CheckPassword evaluates the strength rules.
func CheckPassword(password string) PasswordStrength {
	s := PasswordStrength{MinLength: len(password) >= 8}
	for _, r := range password {
		switch {
		case unicode.IsUpper(r) && r < unicode.MaxASCII:
			s.Upper = true
		case unicode.IsLower(r) && r < unicode.MaxASCII:
			s.Lower = true
		case r >= '0' && r <= '9':
			s.Digit = true
		case strings.ContainsRune(specialChars, r):
			s.Special = true
		}
	}
	return s
}

func formValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.FormValue(key))
}

func formInt64(r *http.Request, key string) int64 {
	v, err := strconv.ParseInt(formValue(r, key), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func queryInt64(r *http.Request, key string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get(key)), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
