package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ConnectivityError wraps timeouts and network failures reaching the remote
// service. It is always transient.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: connectivity: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// RemoteError is a non-2xx answer that is neither a validation nor a conflict
// rejection, typically 5xx.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Message)
}

// ValidationError is returned for payloads rejected locally by a resource
// schema or remotely with a 4xx status. It is never retried or queued.
type ValidationError struct {
	StatusCode int
	Errors     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

type ConflictError struct {
	ResourceType ResourceType
	ResourceID   string
	Message      string
}

func (e *ConflictError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "version mismatch"
	}
	return fmt.Sprintf("conflict on %s/%s: %s", e.ResourceType, e.ResourceID, msg)
}

// StorageError reports a failed local store write. Full is set when the
// store ran out of space.
type StorageError struct {
	Op   string
	Full bool
	Err  error
}

func (e *StorageError) Error() string {
	if e.Full {
		return fmt.Sprintf("%s: storage full: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: storage: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassTransient
	ClassPermanent
	ClassConflict
	ClassCanceled
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassConflict:
		return "conflict"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	var connErr *ConnectivityError
	var remoteErr *RemoteError
	var conflictErr *ConflictError
	switch {
	case errors.As(err, &connErr):
		return ClassTransient
	case errors.As(err, &conflictErr):
		return ClassConflict
	case errors.As(err, &remoteErr):
		if isTransientStatus(remoteErr.StatusCode) {
			return ClassTransient
		}
		return ClassPermanent
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	default:
		return ClassPermanent
	}
}

// IsTransient reports whether err should be treated like a connectivity
// failure: retried by the engine and queued by the facade.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

func isTransientStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}
