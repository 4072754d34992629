package stm

import (
	"strings"

	"github.com/pkg/errors"
)

// Isolation selects which sets are validated at commit.
type Isolation int

const (
	// Snapshot detects write/write conflicts only.
	Snapshot Isolation = iota
	// Serializable also fails the commit when anything read has changed.
	Serializable
)

func (iso Isolation) String() string {
	switch iso {
	case Snapshot:
		return "snapshot"
	case Serializable:
		return "serializable"
	default:
		return "unknown"
	}
}

func ParseIsolation(s string) (Isolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "snapshot":
		return Snapshot, nil
	case "serializable":
		return Serializable, nil
	default:
		return Snapshot, errors.Errorf("stm: unknown isolation level %q", s)
	}
}
