package localbase

import (
	"bytes"
	"strings"
)

// Rows returns every record of the table in storage order. An unknown table
// reads as empty.
func (tx *Tx) Rows(table string) ([]Record, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	var rows []Record
	found, err := tx.getValue(table, tx.db.tableKey(table), &rows)
	if err != nil || !found {
		return nil, err
	}
	for i, row := range rows {
		rows[i], err = normalizeRecord(row)
		if err != nil {
			return nil, tableErrf(table, tx.db.tableKey(table), err, "row %d", i)
		}
	}
	return rows, nil
}

// replaceRows persists the full table. Tables are created on first write.
func (tx *Tx) replaceRows(table string, rows []Record) error {
	if rows == nil {
		rows = []Record{}
	}
	return tx.putValue(table, tx.db.tableKey(table), rows)
}

// Tables lists persisted tables in key order.
func (tx *Tx) Tables() []string {
	b := tx.bucket()
	if b == nil {
		return nil
	}
	prefix := []byte(tx.db.prefix)
	sessionKey := tx.db.sessionKey()

	var names []string
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if string(k) == sessionKey {
			continue
		}
		names = append(names, strings.TrimPrefix(string(k), tx.db.prefix))
	}
	return names
}

// Truncate removes a table and its key entirely.
func (tx *Tx) Truncate(table string) error {
	if err := validateTableName(table); err != nil {
		return err
	}
	rows, err := tx.Rows(table)
	if err != nil {
		return err
	}
	if err := tx.deleteValue(table, tx.db.tableKey(table)); err != nil {
		return err
	}
	now := tx.db.now()
	for _, row := range rows {
		tx.changes.add(&Change{Table: table, Op: OpDelete, OldRow: row, Time: now})
	}
	return nil
}

type TableStats struct {
	Rows int
	Size int
}

func (tx *Tx) TableStats(table string) (TableStats, error) {
	rows, err := tx.Rows(table)
	if err != nil {
		return TableStats{}, err
	}
	return TableStats{
		Rows: len(rows),
		Size: len(tx.rawValue(tx.db.tableKey(table))),
	}, nil
}

// Tables lists persisted tables.
func (db *DB) Tables() ([]string, error) {
	var names []string
	err := db.Read(func(tx *Tx) error {
		names = tx.Tables()
		return nil
	})
	return names, err
}

func (db *DB) TableStats(table string) (TableStats, error) {
	var stats TableStats
	err := db.Read(func(tx *Tx) error {
		var err error
		stats, err = tx.TableStats(table)
		return err
	})
	return stats, err
}

func (db *DB) Truncate(table string) error {
	return db.Write(func(tx *Tx) error {
		return tx.Truncate(table)
	})
}
