// Package dberr defines the four error categories that propagate out of
// the storage core. No other error kind is allowed to surface to a caller
// of kv, txn, dbiter, index, segment or environment.
package dberr

import "fmt"

// Category is one of the four taxonomy members.
type Category int

const (
	CategoryDeadlock Category = iota
	CategoryLockTimeout
	CategoryDocExists
	CategoryError
)

func (c Category) String() string {
	switch c {
	case CategoryDeadlock:
		return "Deadlock"
	case CategoryLockTimeout:
		return "LockTimeout"
	case CategoryDocExists:
		return "DocExists"
	case CategoryError:
		return "Error"
	default:
		return "Unknown"
	}
}

// StoreError is the concrete type carrying a category, a human message and
// an optional wrapped diagnostic from the underlying engine.
type StoreError struct {
	Category Category
	Message  string
	Engine   error
}

func (e *StoreError) Error() string {
	if e.Engine != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Category, e.Message, e.Engine)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Engine
}

// Is lets errors.Is(err, dberr.Deadlock) work against the category sentinels
// below without requiring callers to type-assert *StoreError themselves.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Category == t.Category
}

// Category sentinels usable with errors.Is.
var (
	Deadlock    = &StoreError{Category: CategoryDeadlock, Message: "deadlock"}
	LockTimeout = &StoreError{Category: CategoryLockTimeout, Message: "lock timeout"}
	DocExists   = &StoreError{Category: CategoryDocExists, Message: "document exists"}
	Generic     = &StoreError{Category: CategoryError, Message: "error"}
)

// NewDeadlock builds a Deadlock error; the caller was chosen as victim and
// the enclosing transaction must be retried from its top-level begin.
func NewDeadlock(msg string, engine error) *StoreError {
	return &StoreError{Category: CategoryDeadlock, Message: msg, Engine: engine}
}

// NewLockTimeout builds a LockTimeout error; the caller may retry.
func NewLockTimeout(msg string, engine error) *StoreError {
	return &StoreError{Category: CategoryLockTimeout, Message: msg, Engine: engine}
}

// NewDocExists builds a DocExists error; non-retryable write collision.
func NewDocExists(msg string) *StoreError {
	return &StoreError{Category: CategoryDocExists, Message: msg}
}

// NewError builds a structural/IO/programming error, the catch-all category.
func NewError(msg string, engine error) *StoreError {
	return &StoreError{Category: CategoryError, Message: msg, Engine: engine}
}

// IsDeadlock, IsLockTimeout, IsDocExists report the category of err, if it is
// a *StoreError produced by this package.
func IsDeadlock(err error) bool    { return hasCategory(err, CategoryDeadlock) }
func IsLockTimeout(err error) bool { return hasCategory(err, CategoryLockTimeout) }
func IsDocExists(err error) bool   { return hasCategory(err, CategoryDocExists) }

func hasCategory(err error, c Category) bool {
	se, ok := err.(*StoreError)
	return ok && se.Category == c
}
