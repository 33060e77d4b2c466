// Package sessionid provides the SessionID type that identifies a session
// throughout the control plane: in the registry stream, in per-session stream
// paths, and in the derived git branch name.
package sessionid

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
)

// ID is a 12-character lowercase hex identifier for a session (§6).
//
//nolint:recvcheck // UnmarshalJSON requires a pointer receiver, others use value receivers.
type ID string

// Empty represents an unset session id.
const Empty ID = ""

// Pattern is the regex pattern for a valid session id, exported so other
// packages (e.g. stream-path parsing) can embed it without duplication.
const Pattern = `[0-9a-f]{12}`

var idRegex = regexp.MustCompile(`^` + Pattern + `$`)

// New validates s and wraps it as an ID.
func New(s string) (ID, error) {
	if err := Validate(s); err != nil {
		return Empty, err
	}
	return ID(s), nil
}

// Generate creates a new random 12-hex-character session id.
func Generate() (ID, error) {
	buf := make([]byte, 6) // 6 bytes = 12 hex chars
	if _, err := rand.Read(buf); err != nil {
		return Empty, fmt.Errorf("generating session id: %w", err)
	}
	return ID(hex.EncodeToString(buf)), nil
}

// Validate reports whether s is a well-formed session id.
func Validate(s string) error {
	if !idRegex.MatchString(s) {
		return fmt.Errorf("invalid session id %q: must be 12 lowercase hex characters", s)
	}
	return nil
}

// String returns the id as a plain string.
func (id ID) String() string {
	return string(id)
}

// IsEmpty reports whether the id is unset.
func (id ID) IsEmpty() bool {
	return id == Empty
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(string(id))
	if err != nil {
		return nil, fmt.Errorf("marshaling session id: %w", err)
	}
	return data, nil
}

// UnmarshalJSON implements json.Unmarshaler with validation. An empty string
// unmarshals to Empty.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unmarshaling session id: %w", err)
	}
	if s == "" {
		*id = Empty
		return nil
	}
	if err := Validate(s); err != nil {
		return err
	}
	*id = ID(s)
	return nil
}
