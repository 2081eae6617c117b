package reliability

import (
	"errors"
	"fmt"
)

// Kind names the failing collaborator of a memory or report operation.
type Kind string

const (
	KindGateway       Kind = "gateway"
	KindIndex         Kind = "index"
	KindPersistence   Kind = "persistence"
	KindConfiguration Kind = "configuration"
)

// Error is a classified failure. Gateway, index and persistence errors are
// recoverable at session close; configuration errors are fatal at startup.
type Error struct {
	Kind      Kind
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Gateway(op string, err error) error { return newError(KindGateway, op, err) }

// RetryableGateway marks a gateway failure the caller may try again, such as a 429 or 503.
func RetryableGateway(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindGateway, Op: op, Retryable: true, Err: err}
}

func Index(op string, err error) error         { return newError(KindIndex, op, err) }
func Persistence(op string, err error) error   { return newError(KindPersistence, op, err) }
func Configuration(op string, err error) error { return newError(KindConfiguration, op, err) }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
