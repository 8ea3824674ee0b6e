package actions

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Kind classifies an action failure so callers can branch without parsing
// messages.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidAction is a malformed or missing attribute found while
	// constructing an action.
	KindInvalidAction
	// KindValidation is a deferred attribute problem (bad mode, unknown
	// principal) found by Validate or Install.
	KindValidation
	// KindInstall is an OS failure during Install outside the tolerated set.
	KindInstall
	// KindRemove is an OS failure during Remove outside the tolerated set.
	KindRemove
	// KindUniqueness is two destination actions sharing a globally unique key.
	KindUniqueness
)

func (k Kind) String() string {
	switch k {
	case KindInvalidAction:
		return "invalid action"
	case KindValidation:
		return "validation"
	case KindInstall:
		return "install"
	case KindRemove:
		return "remove"
	case KindUniqueness:
		return "uniqueness"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrInvalidAction = &Error{Kind: KindInvalidAction}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrInstall       = &Error{Kind: KindInstall}
	ErrRemove        = &Error{Kind: KindRemove}
	ErrUniqueness    = &Error{Kind: KindUniqueness}
)

// Error is the structured failure returned by every lifecycle method.
type Error struct {
	Kind   Kind
	Action string // action type name
	Key    string // value of the action's key attribute
	Op     string // failing step, e.g. "mkdir", "chown"
	Reason string
	FMRI   string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Kind)
	if e.Action != "" || e.Key != "" {
		b.WriteString(" " + strings.TrimSpace(e.Action+" "+e.Key))
	}
	if e.FMRI != "" {
		b.WriteString(" (" + e.FMRI + ")")
	}
	if e.Op != "" {
		b.WriteString(": " + e.Op)
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error target of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// Errno returns the OS error number carried in err's chain, if any.
func Errno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

func failure(kind Kind, a Action, op, reason string, err error) *Error {
	e := &Error{Kind: kind, Op: op, Reason: reason, Err: err}
	if a != nil {
		e.Action = a.Name()
		e.Key = a.Key()
	}
	return e
}
