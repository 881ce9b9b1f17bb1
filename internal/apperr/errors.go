// Package apperr defines the error taxonomy shared across the recording
// engine, so that every fallible operation returns a result tagged with
// one well-known kind instead of an ad-hoc string.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation/handling purposes.
type Kind string

const (
	Auth             Kind = "auth"
	NotFound         Kind = "not_found"
	NotLive          Kind = "not_live"
	TransientNetwork Kind = "transient_network"
	Protocol         Kind = "protocol"
	Store            Kind = "store"
	Cache            Kind = "cache"
	Subprocess       Kind = "subprocess"
	Cancelled        Kind = "cancelled"
	Config           Kind = "config"
)

// E wraps an error with its taxonomy Kind.
type E struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *E) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *E) Unwrap() error { return e.Err }

// New creates a tagged error.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{Kind: kind, Op: op, Err: err}
}

// Newf creates a tagged error from a format string.
func Newf(kind Kind, op, format string, args ...interface{}) error {
	return &E{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, returning ("", false) if err was never
// tagged by this package.
func KindOf(err error) (Kind, bool) {
	var e *E
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
