package localbase

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/andreyvit/localbase/journal"
)

var ErrNoJournal = errors.New("change journal is not enabled")

// appendToJournal writes the changes of one transaction as a single batch.
func (db *DB) appendToJournal(changes []*Change) error {
	for _, chg := range changes {
		data, err := json.Marshal(chg)
		if err != nil {
			return fmt.Errorf("%s %s: %w", chg.Op, chg.Table, err)
		}
		if err := db.journal.WriteRecord(journal.Timestamp(chg.Time), data); err != nil {
			return err
		}
	}
	return db.journal.Commit()
}

// History replays every journaled change, oldest first. Returns ErrNoJournal
// unless the store was opened with a JournalDir.
func (db *DB) History(fn func(chg *Change) error) error {
	if db.journal == nil {
		return ErrNoJournal
	}
	return db.journal.Replay(func(ts uint32, data []byte) error {
		chg := new(Change)
		if err := json.Unmarshal(data, chg); err != nil {
			return dataErrf(data, 0, err, "journal record")
		}
		return fn(chg)
	})
}
