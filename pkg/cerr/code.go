package cerr

import "net/http"

type Code int

const (
	OK                 = Code(0)
	Canceled           = Code(1)
	Unknown            = Code(2)
	InvalidArgument    = Code(3)
	DeadlineExceeded   = Code(4)
	NotFound           = Code(5)
	AlreadyExists      = Code(6)
	ResourceExhausted  = Code(8)
	FailedPrecondition = Code(9)
	Aborted            = Code(10)
	Internal           = Code(13)
	Unavailable        = Code(14)
	Unauthenticated    = Code(16)
	Cycle              = Code(100)
)

var codeNames = map[Code]string{
	OK:                 "ok",
	Canceled:           "canceled",
	Unknown:            "unknown",
	InvalidArgument:    "invalid_argument",
	DeadlineExceeded:   "deadline_exceeded",
	NotFound:           "not_found",
	AlreadyExists:      "already_exists",
	ResourceExhausted:  "resource_exhausted",
	FailedPrecondition: "failed_precondition",
	Aborted:            "aborted",
	Internal:           "internal",
	Unavailable:        "unavailable",
	Unauthenticated:    "unauthenticated",
	Cycle:              "cycle",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown"
}

// ParseCode is the inverse of String. Unknown names map to Unknown.
func ParseCode(s string) Code {
	for c, name := range codeNames {
		if name == s {
			return c
		}
	}
	return Unknown
}

func (c Code) HTTPCode() int {
	switch c {
	case OK:
		return http.StatusOK
	case Canceled:
		return 499
	case InvalidArgument:
		return http.StatusBadRequest
	case DeadlineExceeded:
		return http.StatusGatewayTimeout
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists, Aborted, Cycle:
		return http.StatusConflict
	case ResourceExhausted:
		return http.StatusTooManyRequests
	case FailedPrecondition:
		return http.StatusPreconditionFailed
	case Unavailable:
		return http.StatusServiceUnavailable
	case Unauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may retry an operation that failed with
// this code. Capacity and transient storage failures should be retried with
// backoff; conflicts after re-fetching.
func (c Code) Retryable() bool {
	switch c {
	case ResourceExhausted, Unavailable, DeadlineExceeded, Aborted:
		return true
	default:
		return false
	}
}

// serverSide reports whether the code indicates a fault worth a stack trace.
func (c Code) serverSide() bool {
	switch c {
	case Unknown, Internal:
		return true
	default:
		return false
	}
}
