package uuid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// UUID is a 128-bit (16-byte) universally unique identifier.
type UUID [16]byte

// Nil is the zero value for a UUID.
var Nil = UUID{}

// NewV4 generates a new random UUID (version 4).
func NewV4() (UUID, error) {
	var u UUID
	if _, err := rand.Read(u[:]); err != nil {
		return Nil, err
	}

	u[6] = (u[6] & 0x0f) | 0x40 // version 4
	u[8] = (u[8] & 0x3f) | 0x80 // variant RFC4122

	return u, nil
}

// MustNewV4 is a helper that panics if UUID generation fails.
func MustNewV4() UUID {
	u, err := NewV4()
	if err != nil {
		panic(fmt.Errorf("failed to generate UUID: %w", err))
	}
	return u
}

// NewString returns a fresh v4 UUID in canonical string form.
func NewString() string {
	return MustNewV4().String()
}

// String returns the UUID in the standard hexadecimal format.
func (u UUID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x",
		u[0:4], u[4:6], u[6:8], u[8:10], u[10:])
}

// Parse decodes a canonical UUID string (xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx).
func Parse(s string) (UUID, error) {
	if len(s) != 36 || s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return Nil, fmt.Errorf("invalid UUID format: %q", s)
	}

	raw, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
	if err != nil {
		return Nil, fmt.Errorf("invalid UUID hex: %w", err)
	}

	var u UUID
	copy(u[:], raw)
	return u, nil
}

// MarshalJSON implements the json.Marshaler interface.
func (u UUID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + u.String() + `"`), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (u *UUID) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("invalid UUID JSON format")
	}
	parsed, err := Parse(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
