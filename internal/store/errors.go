package store

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/persistkit/internal/querysql"
)

// ErrorKind classifies a StoreError.
type ErrorKind int

const (
	// KindGeneral is any failure not attributable to the engine.
	KindGeneral ErrorKind = iota
	// KindEngine is a failure reported by the relational engine or driver.
	KindEngine
	// KindCoercion is a value that could not be converted to the type a
	// property or parameter expects.
	KindCoercion
	// KindNotFound is a write or lookup that matched no row.
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindEngine:
		return "engine"
	case KindCoercion:
		return "coercion"
	case KindNotFound:
		return "not found"
	default:
		return "general"
	}
}

// Sentinel errors.
var (
	ErrContextClosed     = errors.New("persistence context is not open")
	ErrSessionClosed     = errors.New("session is closed")
	ErrTransactionActive = errors.New("transaction already active")
	ErrTransactionDone   = errors.New("transaction already committed or rolled back")
)

// StoreError is the failure type returned by every persistence operation.
type StoreError struct {
	Kind  ErrorKind
	Op    string // operation description, e.g. "save entity"
	Query string // query text or name, when one was involved
	Err   error
}

func (e *StoreError) Error() string {
	msg := e.Kind.String() + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Query != "" {
		msg += fmt.Sprintf(" [%s]", e.Query)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Wrap converts err into a *StoreError tagged with op and query.
// An error that already is a StoreError keeps its kind and query; op is
// prefixed to its description ("save bulk: insert Screen"). Returns nil
// for a nil err.
func Wrap(op, query string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		out := *se
		switch {
		case out.Op == "":
			out.Op = op
		case op != "" && op != out.Op && !strings.HasPrefix(out.Op, op+": "):
			out.Op = op + ": " + out.Op
		}
		if out.Query == "" {
			out.Query = query
		}
		return &out
	}
	return &StoreError{Kind: Classify(err), Op: op, Query: query, Err: err}
}

// NewError builds a StoreError of an explicit kind.
func NewError(kind ErrorKind, op string, err error) *StoreError {
	return &StoreError{Kind: kind, Op: op, Err: err}
}

// Classify maps a raw error onto the error taxonomy.
func Classify(err error) ErrorKind {
	var (
		liteErr    sqlite3.Error
		pgErr      *pgconn.PgError
		missing    *querysql.MissingParamError
		codedErr   interface{ Code() int }
		storeError *StoreError
	)
	switch {
	case errors.As(err, &storeError):
		return storeError.Kind
	case errors.Is(err, sql.ErrNoRows):
		return KindNotFound
	case errors.As(err, &missing):
		return KindCoercion
	case errors.As(err, &liteErr), errors.As(err, &pgErr), errors.As(err, &codedErr):
		return KindEngine
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.Is(err, sql.ErrTxDone):
		return KindEngine
	default:
		return KindGeneral
	}
}

// IsEngineError reports whether err is an engine failure.
func IsEngineError(err error) bool {
	return kindOf(err) == KindEngine
}

// IsCoercionError reports whether err is a value coercion failure.
func IsCoercionError(err error) bool {
	return kindOf(err) == KindCoercion
}

// IsNotFound reports whether err is a lookup or write that matched no row.
func IsNotFound(err error) bool {
	return kindOf(err) == KindNotFound
}

func kindOf(err error) ErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return -1
}
