package errors

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
)

// Kind identifies which phase of the lease protocol failed.
type Kind int

const (
	// KindLock means the initial acquisition failed because the name is held.
	KindLock Kind = iota + 1
	// KindRelock means a renewal did not find the expected record.
	KindRelock
	// KindUnlock means the best-effort release failed.
	KindUnlock
)

func (k Kind) String() string {
	switch k {
	case KindLock:
		return "lock error"
	case KindRelock:
		return "relock error"
	case KindUnlock:
		return "unlock error"
	}
	return "unknown lock error"
}

// LockingError is returned or reported by the lock package. Compare against
// ErrLock, ErrRelock and ErrUnlock with errors.Is.
type LockingError struct {
	Kind Kind
	Name string
	Err  error
}

var (
	ErrLock   = &LockingError{Kind: KindLock}
	ErrRelock = &LockingError{Kind: KindRelock}
	ErrUnlock = &LockingError{Kind: KindUnlock}
)

// NewLockError reports that name is leased by another holder.
func NewLockError(name string) *LockingError {
	return &LockingError{Kind: KindLock, Name: name}
}

// NewRelockError reports a lost lease, optionally caused by err.
func NewRelockError(name string, err error) *LockingError {
	return &LockingError{Kind: KindRelock, Name: name, Err: err}
}

// NewUnlockError reports a failed release caused by err.
func NewUnlockError(name string, err error) *LockingError {
	return &LockingError{Kind: KindUnlock, Name: name, Err: err}
}

func (e *LockingError) Error() string {
	msg := e.Kind.String()
	if e.Name != "" {
		msg = fmt.Sprintf("%s: %s", e.Name, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *LockingError) Unwrap() error { return e.Err }

// Is matches any LockingError of the same kind.
func (e *LockingError) Is(target error) bool {
	t, ok := target.(*LockingError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}
