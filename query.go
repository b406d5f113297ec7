package localbase

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Query is an immutable description of filters, ordering and a row limit over
// one table. Builder methods return a modified copy, so a Query can be shared
// and executed any number of times; each terminal call (Fetch, Single,
// MaybeSingle, Insert, Update, Delete) reads the table afresh inside its own
// transaction.
type Query struct {
	db      *DB
	table   string
	filters []filter
	order   *ordering
	limit   int
	err     error
}

type filterOp int

const (
	filterEq filterOp = iota
	filterNeq
	filterIn
)

func (op filterOp) String() string {
	switch op {
	case filterEq:
		return "eq"
	case filterNeq:
		return "neq"
	case filterIn:
		return "in"
	default:
		return fmt.Sprintf("invalid filter op %d", int(op))
	}
}

type filter struct {
	field  string
	op     filterOp
	values []any
}

func (f filter) matches(row Record) bool {
	v := row[f.field]
	switch f.op {
	case filterEq:
		return valuesEqual(v, f.values[0])
	case filterNeq:
		return !valuesEqual(v, f.values[0])
	case filterIn:
		for _, e := range f.values {
			if valuesEqual(v, e) {
				return true
			}
		}
		return false
	default:
		panic(fmt.Errorf("unknown filter op %d", int(f.op)))
	}
}

type ordering struct {
	field     string
	ascending bool
}

// Result is what a read or a mutation returns. Count always equals len(Data).
type Result struct {
	Data  []Record `json:"data"`
	Count int      `json:"count"`
}

func newResult(rows []Record) *Result {
	if rows == nil {
		rows = []Record{}
	}
	return &Result{Data: rows, Count: len(rows)}
}

// From binds a new query to the named table. It never fails; an unknown table
// reads as empty and is created on first write.
func (db *DB) From(table string) *Query {
	return &Query{db: db, table: table, limit: -1}
}

func (q *Query) Table() string {
	return q.table
}

func (q *Query) with(f func(c *Query)) *Query {
	c := *q
	c.filters = slices.Clone(q.filters)
	if q.order != nil {
		o := *q.order
		c.order = &o
	}
	f(&c)
	return &c
}

// Select is accepted for call-site compatibility but has no effect: every
// field of every row is always returned. Column pruning is intentionally not
// implemented.
func (q *Query) Select(columns ...string) *Query {
	return q
}

// Eq keeps rows whose field equals value.
func (q *Query) Eq(field string, value any) *Query {
	return q.addFilter(field, filterEq, value)
}

// Neq keeps rows whose field does not equal value; rows missing the field
// match unless value is nil.
func (q *Query) Neq(field string, value any) *Query {
	return q.addFilter(field, filterNeq, value)
}

// In keeps rows whose field equals any of values.
func (q *Query) In(field string, values ...any) *Query {
	return q.addFilter(field, filterIn, values...)
}

func (q *Query) addFilter(field string, op filterOp, values ...any) *Query {
	return q.with(func(c *Query) {
		norm := make([]any, len(values))
		for i, v := range values {
			nv, err := normalizeValue(v)
			if err != nil && c.err == nil {
				c.err = fmt.Errorf("%s filter on %q: %w", op, field, err)
			}
			norm[i] = nv
		}
		c.filters = append(c.filters, filter{field: field, op: op, values: norm})
	})
}

// Order sorts by a single field. Only the last Order call is kept. Sorting is
// stable: rows with equal keys keep their storage order. Missing fields sort
// last ascending and first descending.
func (q *Query) Order(field string, ascending bool) *Query {
	return q.with(func(c *Query) {
		c.order = &ordering{field, ascending}
	})
}

// Limit caps the number of rows returned after filtering and ordering.
func (q *Query) Limit(n int) *Query {
	return q.with(func(c *Query) {
		c.limit = n
		if n < 0 && c.err == nil {
			c.err = fmt.Errorf("%w: %d", ErrInvalidLimit, n)
		}
	})
}

func (q *Query) validate() error {
	if err := validateTableName(q.table); err != nil {
		return err
	}
	return q.err
}

func (q *Query) matches(row Record) bool {
	for _, f := range q.filters {
		if !f.matches(row) {
			return false
		}
	}
	return true
}

// apply runs filters, then ordering, then the limit, in that fixed order.
func (q *Query) apply(rows []Record) []Record {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		if q.matches(row) {
			out = append(out, row)
		}
	}
	if q.order != nil {
		field, asc := q.order.field, q.order.ascending
		slices.SortStableFunc(out, func(a, b Record) int {
			c := compareValues(a[field], b[field])
			if !asc {
				c = -c
			}
			return c
		})
	}
	if q.limit >= 0 && q.limit < len(out) {
		out = out[:q.limit]
	}
	return out
}

// String renders the query in the REST filter syntax hosted backends use,
// e.g. "videos?user_id=eq.u1&order=created_at.desc&limit=10".
func (q *Query) String() string {
	var params []string
	for _, f := range q.filters {
		var vals []string
		for _, v := range f.values {
			vals = append(vals, formatFilterValue(v))
		}
		var rhs string
		if f.op == filterIn {
			rhs = "(" + strings.Join(vals, ",") + ")"
		} else {
			rhs = vals[0]
		}
		params = append(params, url.QueryEscape(f.field)+"="+f.op.String()+"."+rhs)
	}
	if q.order != nil {
		dir := "asc"
		if !q.order.ascending {
			dir = "desc"
		}
		params = append(params, "order="+url.QueryEscape(q.order.field)+"."+dir)
	}
	if q.limit >= 0 {
		params = append(params, "limit="+strconv.Itoa(q.limit))
	}
	if len(params) == 0 {
		return q.table
	}
	return q.table + "?" + strings.Join(params, "&")
}

func formatFilterValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (q *Query) logOp(op string, n int) {
	if !q.db.verbose {
		return
	}
	q.db.logger.LogAttrs(context.Background(), slog.LevelDebug, "localbase: "+op, slog.String("query", q.String()), slog.Int("rows", n))
}

// Fetch executes the query and returns the matching rows.
func (q *Query) Fetch() (*Result, error) {
	var res *Result
	err := q.db.Read(func(tx *Tx) error {
		var err error
		res, err = tx.Fetch(q)
		return err
	})
	return res, err
}

// Single returns the only matching row; ErrNotFound or ErrMultipleRows otherwise.
func (q *Query) Single() (Record, error) {
	row, err := q.MaybeSingle()
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%s: %w", q, ErrNotFound)
	}
	return row, nil
}

// MaybeSingle returns the only matching row, nil if there is none, or
// ErrMultipleRows.
func (q *Query) MaybeSingle() (Record, error) {
	res, err := q.Fetch()
	if err != nil {
		return nil, err
	}
	switch res.Count {
	case 0:
		return nil, nil
	case 1:
		return res.Data[0], nil
	default:
		return nil, fmt.Errorf("%s: %w (%d)", q, ErrMultipleRows, res.Count)
	}
}

// Insert appends rows to the table, assigning each a fresh id and created_at
// (overwriting caller-supplied values), and returns the inserted rows.
func (q *Query) Insert(rows ...Record) (*Result, error) {
	var res *Result
	err := q.db.Write(func(tx *Tx) error {
		var err error
		res, err = tx.Insert(q, rows...)
		return err
	})
	return res, err
}

// Update shallow-merges patch into every row matching the filters and returns
// the updated rows. Ordering and limit do not apply. Zero matches is not an error.
func (q *Query) Update(patch Record) (*Result, error) {
	var res *Result
	err := q.db.Write(func(tx *Tx) error {
		var err error
		res, err = tx.Update(q, patch)
		return err
	})
	return res, err
}

// Delete removes every row matching the filters (every row, if there are none).
func (q *Query) Delete() error {
	return q.db.Write(func(tx *Tx) error {
		_, err := tx.Delete(q)
		return err
	})
}

// Fetch executes q inside tx.
func (tx *Tx) Fetch(q *Query) (*Result, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	rows, err := tx.Rows(q.table)
	if err != nil {
		return nil, err
	}
	out := q.apply(rows)
	q.logOp("select", len(out))
	return newResult(out), nil
}

const maxIDAttempts = 8

// Insert executes an insert into q's table inside tx.
func (tx *Tx) Insert(q *Query, rows ...Record) (*Result, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return newResult(nil), nil
	}
	existing, err := tx.Rows(q.table)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(existing)+len(rows))
	for _, row := range existing {
		ids[row.ID()] = struct{}{}
	}

	now := tx.db.now()
	createdAt := now.UTC().Format(time.RFC3339Nano)
	inserted := make([]Record, 0, len(rows))
	for _, row := range rows {
		nr, err := normalizeRecord(row)
		if err != nil {
			return nil, tableErrf(q.table, "", err, "insert")
		}
		id, err := tx.uniqueID(ids)
		if err != nil {
			return nil, tableErrf(q.table, "", err, "insert")
		}
		nr[FieldID] = id
		nr[FieldCreatedAt] = createdAt
		existing = append(existing, nr)
		inserted = append(inserted, nr.Clone())
		tx.changes.add(&Change{Table: q.table, Op: OpInsert, Row: nr.Clone(), Time: now})
	}
	if err := tx.replaceRows(q.table, existing); err != nil {
		return nil, err
	}
	q.logOp("insert", len(inserted))
	return newResult(inserted), nil
}

func (tx *Tx) uniqueID(taken map[string]struct{}) (string, error) {
	for range maxIDAttempts {
		id := tx.db.newID()
		if _, dup := taken[id]; !dup && id != "" {
			taken[id] = struct{}{}
			return id, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique id after %d attempts", maxIDAttempts)
}

// Update executes an update of q's table inside tx. The implicit id and
// created_at fields cannot be patched.
func (tx *Tx) Update(q *Query, patch Record) (*Result, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	np, err := normalizeRecord(patch)
	if err != nil {
		return nil, tableErrf(q.table, "", err, "update")
	}
	delete(np, FieldID)
	delete(np, FieldCreatedAt)

	rows, err := tx.Rows(q.table)
	if err != nil {
		return nil, err
	}
	now := tx.db.now()
	var updated []Record
	for i, row := range rows {
		if !q.matches(row) {
			continue
		}
		nr := row.merged(np)
		rows[i] = nr
		updated = append(updated, nr.Clone())
		tx.changes.add(&Change{Table: q.table, Op: OpUpdate, Row: nr.Clone(), OldRow: row, Time: now})
	}
	if len(updated) > 0 {
		if err := tx.replaceRows(q.table, rows); err != nil {
			return nil, err
		}
	}
	q.logOp("update", len(updated))
	return newResult(updated), nil
}

// Delete executes a delete on q's table inside tx, returning how many rows
// were removed.
func (tx *Tx) Delete(q *Query) (int, error) {
	if err := q.validate(); err != nil {
		return 0, err
	}
	rows, err := tx.Rows(q.table)
	if err != nil {
		return 0, err
	}
	now := tx.db.now()
	kept := make([]Record, 0, len(rows))
	for _, row := range rows {
		if q.matches(row) {
			tx.changes.add(&Change{Table: q.table, Op: OpDelete, OldRow: row, Time: now})
		} else {
			kept = append(kept, row)
		}
	}
	removed := len(rows) - len(kept)
	if removed > 0 {
		if err := tx.replaceRows(q.table, kept); err != nil {
			return 0, err
		}
	}
	q.logOp("delete", removed)
	return removed, nil
}
