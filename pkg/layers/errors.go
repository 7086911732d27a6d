package layers

import (
	"errors"
)

// Error kinds. Every error returned by this package wraps exactly one of them.
var (
	ErrIO               = errors.New("I/O error")
	ErrParse            = errors.New("manifest parse error")
	ErrNotFound         = errors.New("layer not found")
	ErrAlreadyExists    = errors.New("layer already exists")
	ErrInvalidLayer     = errors.New("invalid layer")
	ErrPermissionDenied = errors.New("permission denied")
)

var kinds = []error{ErrIO, ErrParse, ErrNotFound, ErrAlreadyExists, ErrInvalidLayer, ErrPermissionDenied}

// Error is a typed layer operation failure
type Error struct {
	Kind error  // One of the Err* kinds
	Op   string // Operation that failed (install, discover, load, ...)
	ID   string // Layer ID, when known
	Err  error  // Underlying cause, may be nil
}

// NewError builds an Error of the given kind
func NewError(kind error, op, id string, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.ID != "" {
		msg += ": " + e.ID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the kind of the outermost layer error in err's chain, or nil if it wraps none
func KindOf(err error) error {
	var layerErr *Error
	if errors.As(err, &layerErr) {
		return layerErr.Kind
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
