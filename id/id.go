// Package id defines prefix-qualified identity types for jobq entities.
//
// An ID is a UUIDv7 (time-ordered, so IDs sort by creation) rendered as
// "prefix_" followed by 32 lowercase hex digits. The prefix identifies the
// entity type and is validated on parse.
package id

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

// Prefix constants for jobq entity types.
const (
	PrefixJob    Prefix = "job"
	PrefixWorker Prefix = "wkr"
)

// ID is the primary identifier type for jobq entities.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receiver for UnmarshalText.
type ID struct {
	prefix Prefix
	uuid   uuid.UUID
	valid  bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is invalid or the random source fails.
func New(prefix Prefix) ID {
	if err := validatePrefix(prefix); err != nil {
		panic(err.Error())
	}
	u, err := uuid.NewV7()
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return ID{prefix: prefix, uuid: u, valid: true}
}

// Parse parses a string such as "job_0190b3c1e2f47c4ba0d3a5b6c7d8e9f0".
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	prefix, suffix, ok := strings.Cut(s, "_")
	if !ok {
		return Nil, fmt.Errorf("id: parse %q: missing prefix separator", s)
	}
	if err := validatePrefix(Prefix(prefix)); err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if len(suffix) != 32 {
		return Nil, fmt.Errorf("id: parse %q: suffix must be 32 hex digits", s)
	}
	var u uuid.UUID
	if _, err := hex.Decode(u[:], []byte(suffix)); err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{prefix: Prefix(prefix), uuid: u, valid: true}, nil
}

// ParseWithPrefix parses an ID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

func validatePrefix(p Prefix) error {
	if p == "" || len(p) > 16 {
		return fmt.Errorf("id: invalid prefix %q", p)
	}
	for _, r := range p {
		if r < 'a' || r > 'z' {
			return fmt.Errorf("id: invalid prefix %q", p)
		}
	}
	return nil
}

// JobID is a type-safe identifier for jobs (prefix: "job").
type JobID = ID

// WorkerID is a type-safe identifier for worker processes (prefix: "wkr").
type WorkerID = ID

// NewJobID generates a new unique job ID.
func NewJobID() ID { return New(PrefixJob) }

// NewWorkerID generates a new unique worker ID.
func NewWorkerID() ID { return New(PrefixWorker) }

// ParseJobID parses a string and validates the "job" prefix.
func ParseJobID(s string) (ID, error) { return ParseWithPrefix(s, PrefixJob) }

// ParseWorkerID parses a string and validates the "wkr" prefix.
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }

// String returns the "prefix_hex" form, or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return string(i.prefix) + "_" + hex.EncodeToString(i.uuid[:])
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix { return i.prefix }

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
