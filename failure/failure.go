// Package failure defines the closed error taxonomy shared by the ingestion
// pipeline, the collection store and the authorization overlay.
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one class of failure a caller can distinguish.
type Kind int

const (
	Unknown Kind = iota
	UnsupportedExtension
	EmptyUpload
	IOFailure
	ParseFailure
	DecodeTimeout
	MetadataMalformed
	PersistenceFailure
	PreviewAssemblyFailure
	CollectionNotFound
	CommentNotFound
	Unauthorized
	Forbidden
	InvalidInput
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case UnsupportedExtension:
		return "UnsupportedExtension"
	case EmptyUpload:
		return "EmptyUpload"
	case IOFailure:
		return "IOFailure"
	case ParseFailure:
		return "ParseFailure"
	case DecodeTimeout:
		return "DecodeTimeout"
	case MetadataMalformed:
		return "MetadataMalformed"
	case PersistenceFailure:
		return "PersistenceFailure"
	case PreviewAssemblyFailure:
		return "PreviewAssemblyFailure"
	case CollectionNotFound:
		return "CollectionNotFound"
	case CommentNotFound:
		return "CommentNotFound"
	case Unauthorized:
		return "Unauthorized"
	case Forbidden:
		return "Forbidden"
	case InvalidInput:
		return "InvalidInput"
	case Cancelled:
		return "Cancelled"
	case Unknown:
		return "Unknown"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// HTTPStatus maps a kind onto the status code surfaced to clients.
func (k Kind) HTTPStatus() int {
	switch k {
	case UnsupportedExtension, EmptyUpload, InvalidInput:
		return http.StatusBadRequest
	case ParseFailure, MetadataMalformed:
		return http.StatusUnprocessableEntity
	case DecodeTimeout:
		return http.StatusGatewayTimeout
	case Cancelled:
		return http.StatusServiceUnavailable
	case CollectionNotFound, CommentNotFound:
		return http.StatusNotFound
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case IOFailure, PersistenceFailure, PreviewAssemblyFailure, Unknown:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// Error carries a Kind, the offending id when one is known, and the cause.
type Error struct {
	Kind Kind
	ID   uint64
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.String()
	if e.ID != 0 {
		msg = fmt.Sprintf("%s (id %d)", msg, e.ID)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New wraps err with the given kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf wraps a formatted message with the given kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WithID wraps err with the given kind and the id it concerns.
func WithID(kind Kind, id uint64, err error) *Error {
	return &Error{Kind: kind, ID: id, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) && fe != nil {
		return fe.Kind
	}
	return Unknown
}

// IDOf returns the id attached to err's outermost *Error, or zero.
func IDOf(err error) uint64 {
	var fe *Error
	if errors.As(err, &fe) && fe != nil {
		return fe.ID
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
