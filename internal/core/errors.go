package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/git-pkgs/mirror/internal/version"
)

// Kind classifies errors by how the pipeline reacts to them.
type Kind uint8

const (
	Other Kind = iota
	InvalidVersion
	DriverUnsupported
	ManifestNotFound
	Transport        // network or host failure, retried
	NotFound         // remote resource missing, never retried
	Overload         // transient store overload, retried
	IdentityConflict // stored record disagrees with its identity
)

func (k Kind) String() string {
	switch k {
	case InvalidVersion:
		return "invalid version"
	case DriverUnsupported:
		return "driver unsupported"
	case ManifestNotFound:
		return "manifest not found"
	case Transport:
		return "transport error"
	case NotFound:
		return "not found"
	case Overload:
		return "store overloaded"
	case IdentityConflict:
		return "identity conflict"
	}
	return "other"
}

// Error carries the operation and kind of a failure.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

// E builds an *Error.
func E(op string, kind Kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	b := new(strings.Builder)
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	if e.Kind != Other {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the first kind found in the error chain.
func KindOf(err error) Kind {
	if err == nil {
		return Other
	}
	var unsupported *UnsupportedError
	if errors.As(err, &unsupported) {
		return DriverUnsupported
	}
	if errors.Is(err, version.ErrInvalidVersion) {
		return InvalidVersion
	}
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return Other
		}
		if e.Kind != Other {
			return e.Kind
		}
		err = e.Err
	}
	return Other
}

// IsTransient reports whether err should be retried by re-enqueueing the
// job that produced it.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case Overload, Transport:
		return true
	}
	return false
}

// IsNotFound reports whether err means the remote resource does not exist.
func IsNotFound(err error) bool {
	return KindOf(err) == NotFound
}

// UnsupportedError is returned when no driver recognizes a repository URL.
type UnsupportedError struct {
	URL   string
	Tried []string // host types that were consulted
}

func (e *UnsupportedError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("no driver supports %s", e.URL)
	}
	return fmt.Sprintf("no driver supports %s (tried %s)", e.URL, strings.Join(e.Tried, ", "))
}
