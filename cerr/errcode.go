// Package cerr defines the core's typed error codes. The core never
// prints or logs; it only returns values of this package, which the HTTP
// and CLI boundaries translate.
package cerr

import "fmt"

// Code is a closed set of error classifications the core may return.
type Code string

const (
	InvalidInput      Code = "INVALID_INPUT"
	NotFound          Code = "NOT_FOUND"
	Forbidden         Code = "FORBIDDEN"
	Conflict          Code = "CONFLICT"
	ResolutionInvalid Code = "RESOLUTION_INVALID"
	IntegrityError    Code = "INTEGRITY_ERROR"
	GraphInvalid      Code = "GRAPH_INVALID"
	Unavailable       Code = "UNAVAILABLE"
	Io                Code = "IO"
)

// descriptors maps each code to the HTTP status the boundary should
// translate it to.
var descriptors = map[Code]int{
	InvalidInput:      400,
	NotFound:          404,
	Forbidden:         403,
	Conflict:          409,
	ResolutionInvalid: 400,
	IntegrityError:    500,
	GraphInvalid:      400,
	Unavailable:       500,
	Io:                500,
}

// HTTPStatus returns the status code the registry handler boundary should
// serve for a given Code.
func (c Code) HTTPStatus() int {
	if sc, ok := descriptors[c]; ok {
		return sc
	}
	return 500
}

// Error is the concrete error type returned by the core. It carries a Code,
// a human-readable message, and an optional structured Detail (used by
// ResolutionInvalid to carry the aggregated report).
type Error struct {
	Code    Code
	Message string
	Detail  any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an *Error with the given code and formatted message.
func New(code Code, format string, args...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a structured detail payload to an error.
func (e *Error) WithDetail(detail any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Detail: detail}
}

// CodeOf extracts the Code of err if it is (or wraps) a *Error, defaulting
// to Io for anything else — an unclassified failure is treated as a
// backing-storage error, never silently swallowed.
func CodeOf(err error) Code {
	var ce *Error
	if asError(err, &ce) {
		return ce.Code
	}
	return Io
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			*target = ce
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
