// Package id defines prefix-qualified identifiers for orchestra entities.
//
// IDs have the form "prefix_uuid" where the UUID is version 7, so IDs
// generated later sort after IDs generated earlier.
package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

// Prefix constants for orchestra entity types.
const (
	PrefixRun        Prefix = "run"
	PrefixSubscriber Prefix = "sub"
)

// ID is a prefix-qualified, globally unique, sortable identifier.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receiver for UnmarshalText.
type ID struct {
	prefix Prefix
	uuid   uuid.UUID
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new ID with the given prefix.
// It panics if the random source fails (programming environment error).
func New(prefix Prefix) ID {
	return ID{prefix: prefix, uuid: uuid.Must(uuid.NewV7())}
}

// Parse parses an ID string such as "run_0190f4c6-...".
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	i := strings.LastIndexByte(s, '_')
	if i <= 0 {
		return Nil, fmt.Errorf("id: parse %q: missing prefix", s)
	}
	u, err := uuid.Parse(s[i+1:])
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{prefix: Prefix(s[:i]), uuid: u}, nil
}

// ParseWithPrefix parses s and checks its prefix.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.prefix != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.prefix)
	}
	return parsed, nil
}

// RunID identifies one execution of a workflow definition.
type RunID = ID

// NewRunID generates a new run ID.
func NewRunID() ID { return New(PrefixRun) }

// ParseRunID parses a string and validates the "run" prefix.
func ParseRunID(s string) (ID, error) { return ParseWithPrefix(s, PrefixRun) }

// NewSubscriberID generates a new stream subscriber ID.
func NewSubscriberID() ID { return New(PrefixSubscriber) }

// String returns "prefix_uuid", or "" for Nil.
func (i ID) String() string {
	if i.IsNil() {
		return ""
	}
	return string(i.prefix) + "_" + i.uuid.String()
}

// Prefix returns the entity prefix.
func (i ID) Prefix() Prefix { return i.prefix }

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return i.prefix == "" && i.uuid == uuid.Nil }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
