// Package id defines the opaque identifier used for player and viewer identity.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is an opaque 128-bit identifier, printed as a canonical textual form.
type ID uuid.UUID

// Nil is the zero identifier; never assigned to a real player or viewer.
var Nil ID

// New returns a fresh random identifier.
func New() ID {
	return ID(uuid.New())
}

// Parse decodes the canonical textual form of an identifier.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID(u), nil
}

// String returns the canonical textual form.
func (i ID) String() string {
	return uuid.UUID(i).String()
}

// IsNil reports whether i is the zero identifier.
func (i ID) IsNil() bool {
	return i == Nil
}

func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
