package localbase

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrClosed           = errors.New("localbase: closed")
	ErrNotWritable      = errors.New("localbase: transaction is read-only")
	ErrNoSession        = errors.New("no session")
	ErrNotFound         = errors.New("no rows returned")
	ErrMultipleRows     = errors.New("multiple rows returned")
	ErrInvalidLimit     = errors.New("limit must be a non-negative integer")
	ErrInvalidTableName = errors.New("invalid table name")
	ErrInexactNumber    = errors.New("integer cannot be stored exactly as a JSON number")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %q", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %q", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %q...%q", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %q...%q", e.Msg, n, p, s)
		}
	}
}

// TableError reports a failure while reading or writing one table's key.
type TableError struct {
	Table string
	Key   string
	Msg   string
	Err   error
}

func tableErrf(table, key string, err error, format string, args ...any) error {
	return &TableError{table, key, fmt.Sprintf(format, args...), err}
}

func (e *TableError) Unwrap() error {
	return e.Err
}

func (e *TableError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Table)
	if e.Key != "" {
		buf.WriteByte('/')
		buf.WriteString(e.Key)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
