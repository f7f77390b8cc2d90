package ledger

import (
	"database/sql/driver"
	"fmt"
)

// Status is the sync state of a transaction in the ledger.
//
// It is stored as a string but handled as a closed enumeration in code; the
// mapping happens at the storage boundary via Scan and Value.
type Status uint8

const (
	// StatusUnknown is what an unrecognized stored value scans to. The
	// engine treats unknown statuses as candidates for re-sync.
	StatusUnknown Status = iota
	StatusPending
	StatusSynced
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSynced:
		return "synced"
	case StatusFailed:
		return "failed"
	}

	return "unknown"
}

// Scan implements sql.Scanner. Unrecognized values scan to StatusUnknown
// instead of failing, so a ledger written by a newer version still reads.
func (s *Status) Scan(value any) error {
	var text string
	switch v := value.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Status", value)
	}

	switch text {
	case "pending":
		*s = StatusPending
	case "synced":
		*s = StatusSynced
	case "failed":
		*s = StatusFailed
	default:
		*s = StatusUnknown
	}

	return nil
}

// Value implements driver.Valuer.
func (s Status) Value() (driver.Value, error) {
	if s == StatusUnknown {
		return nil, fmt.Errorf("refusing to store unknown sync status")
	}

	return s.String(), nil
}
