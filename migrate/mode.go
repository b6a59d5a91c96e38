package migrate

import (
	"github.com/mongomigrate/mongomigrate/errors"
)

// Mode selects how a collection is written to the target.
type Mode int

const (
	// ModeComplete replaces the target collection. A non-empty target is dropped first.
	ModeComplete Mode = iota + 1
	// ModeIncremental inserts only the source documents whose _id is missing in the target.
	ModeIncremental
)

// ReplacementPolicy is the pre-step applied to a target collection before the copy.
type ReplacementPolicy int

const (
	// KeepExisting leaves the target collection as is.
	KeepExisting ReplacementPolicy = iota
	// DropExisting drops the target collection if it holds any documents.
	DropExisting
)

// ParseMode parses the wire name of a mode: "complete", or "newOnly" (alias "incremental").
func ParseMode(s string) (Mode, error) {
	switch s {
	case "complete":
		return ModeComplete, nil
	case "newOnly", "incremental":
		return ModeIncremental, nil
	}

	return 0, errors.Validation("migrationMode", "unknown migration mode "+quote(s))
}

func (m Mode) String() string {
	switch m {
	case ModeComplete:
		return "complete"
	case ModeIncremental:
		return "newOnly"
	}

	return ""
}

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	return m == ModeComplete || m == ModeIncremental
}

// Policy returns the replacement policy of m.
func (m Mode) Policy() ReplacementPolicy {
	if m == ModeComplete {
		return DropExisting
	}

	return KeepExisting
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.IsValid() {
		return nil, errors.Errorf("invalid migration mode %d", int(m))
	}

	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}

	*m = mode

	return nil
}

func quote(s string) string {
	return "\"" + s + "\""
}
