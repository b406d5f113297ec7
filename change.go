package localbase

import (
	"fmt"
	"time"
)

type (
	// Change describes one committed row mutation. Row is the new row for
	// inserts and updates; OldRow is the previous row for updates and deletes.
	Change struct {
		Table  string    `json:"table"`
		Op     Op        `json:"op"`
		Row    Record    `json:"new,omitempty"`
		OldRow Record    `json:"old,omitempty"`
		Time   time.Time `json:"commit_timestamp"`
	}

	Op int
)

const (
	OpNone   Op = 0
	OpInsert Op = 1
	OpUpdate Op = 2
	OpDelete Op = 3
)

// Key returns the id of the affected row.
func (chg *Change) Key() string {
	if chg.Row != nil {
		return chg.Row.ID()
	}
	return chg.OldRow.ID()
}

func (chg *Change) HasRow() bool {
	return chg.Row != nil
}

func (chg *Change) HasOldRow() bool {
	return chg.OldRow != nil
}

// String returns the event name realtime listeners filter on.
func (v Op) String() string {
	switch v {
	case OpNone:
		return "NONE"
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

func (v Op) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Op) UnmarshalText(text []byte) error {
	op, err := ParseOp(string(text))
	if err != nil {
		return err
	}
	*v = op
	return nil
}

// ParseOp parses an event name produced by Op.String.
func ParseOp(s string) (Op, error) {
	switch s {
	case "NONE":
		return OpNone, nil
	case "INSERT":
		return OpInsert, nil
	case "UPDATE":
		return OpUpdate, nil
	case "DELETE":
		return OpDelete, nil
	default:
		return OpNone, fmt.Errorf("invalid op %q", s)
	}
}

// changeSet accumulates changes made inside one write transaction; they are
// published only after the transaction commits.
type changeSet struct {
	changes []*Change
}

func (cs *changeSet) add(chg *Change) {
	cs.changes = append(cs.changes, chg)
}
