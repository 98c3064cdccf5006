package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnknownCode        = errors.New("unknown command code")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrStopping           = errors.New("service is stopping")
)

// ErrorKind classifies failures reported by a remote connection.
type ErrorKind string

const (
	KindIO           ErrorKind = "io"
	KindAuth         ErrorKind = "auth"
	KindNotSupported ErrorKind = "not_supported"
	KindNotFound     ErrorKind = "not_found"
	KindParse        ErrorKind = "parse"
)

// Hard kinds need user action; retrying them cannot help.
func (k ErrorKind) Hard() bool { return k != KindIO }

type ConnectionError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func NewConnectionError(kind ErrorKind, status int, err error) *ConnectionError {
	return &ConnectionError{Kind: kind, StatusCode: status, Err: err}
}

// KindOf returns the kind of a connection error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
