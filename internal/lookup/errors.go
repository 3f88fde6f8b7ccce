package lookup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind categorizes lookup failures so a single presentation layer can
// decide what the user sees.
type ErrorKind string

const (
	KindNetwork  ErrorKind = "network"   // timeout, connection failure, upstream 5xx
	KindNotFound ErrorKind = "not_found" // 404, empty payload, "[]" sentinel
	KindFormat   ErrorKind = "format"    // unexpected content type or JSON shape
)

// Error is returned by every fetch in this package. Err carries the raw
// cause and is meant for logs only.
type Error struct {
	Kind ErrorKind
	PSID string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("lookup %s for psid %q", e.Kind, e.PSID)
	}
	return fmt.Sprintf("lookup %s for psid %q: %v", e.Kind, e.PSID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the kind of a lookup error. Errors that did not come from
// this package are treated as network failures.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindNetwork
}

// IsTimeout reports whether err was caused by a deadline or client timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func statusKind(code int) ErrorKind {
	switch {
	case code == http.StatusNotFound, code == http.StatusGone:
		return KindNotFound
	default:
		return KindNetwork
	}
}
