package credential

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a credential failure
type Kind string

const (
	// KindDownload is a failed or missing read from the store
	KindDownload Kind = "download"
	// KindUpload is a failed write to the store
	KindUpload Kind = "upload"
	// KindValidation is a bundle that failed structural validation
	KindValidation Kind = "validation"
	// KindExpired is a structurally valid bundle whose records are all expired
	KindExpired Kind = "expired"
	// KindRateLimit is a caller over its sliding-window budget
	KindRateLimit Kind = "rate_limit"
	// KindIntegrity is a decrypt failure or digest mismatch
	KindIntegrity Kind = "integrity"
	// KindUnavailable is returned when every source in the fallback chain failed
	KindUnavailable Kind = "unavailable"
)

var (
	// ErrNotFound is wrapped by download errors for absent slots
	ErrNotFound = errors.New("credential not found")
	// ErrEmptyPassphrase is returned when no passphrase is configured
	ErrEmptyPassphrase = errors.New("passphrase must not be empty")
)

// Error is the typed error every credential operation returns
type Error struct {
	Kind Kind
	Op   string
	Slot Slot
	Err  error

	// RetryAfter is set on rate limit errors
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Slot != "" {
		msg += fmt.Sprintf(" [%s]", e.Slot)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so errors.Is(err, &Error{Kind: KindExpired}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Slot == "" || t.Slot == e.Slot)
}

// NewError builds a typed error
func NewError(kind Kind, op string, slot Slot, err error) *Error {
	return &Error{Kind: kind, Op: op, Slot: slot, Err: err}
}

// KindOf extracts the kind of the outermost *Error in the chain. Unclassified errors return "".
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsNotFound reports whether err wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the same call may succeed later without operator action
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindDownload, KindUpload, KindRateLimit:
		return !IsNotFound(err)
	}
	return false
}

// TriggersFallback reports whether the acquisition chain should try the next source.
// Rate limiting and integrity failures stop the chain; unclassified errors count as download failures.
func TriggersFallback(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindRateLimit, KindIntegrity:
		return false
	case KindDownload, KindValidation, KindExpired, KindUnavailable, "":
		return true
	}
	return false
}
