// Package usermgrerr defines the closed set of error kinds the usermgrd
// control plane can return, and the HTTP status each maps to.
package usermgrerr

import (
	"fmt"
	"net/http"
)

// Kind identifies a specific failure mode. The set is closed: handlers
// must only ever produce one of the kinds defined below, and an error
// that doesn't map to one is reported as KindBug.
type Kind string

const (
	KindUserNotFound       Kind = "user_not_found"
	KindUserExists         Kind = "user_exists"
	KindGroupExists        Kind = "group_exists"
	KindUnauthorized       Kind = "unauthorized"
	KindNotAMember         Kind = "not_a_member"
	KindPrimaryGroup       Kind = "primary_group"
	KindKerberosFailed     Kind = "kerberos_failed"
	KindMkhomedirFailed    Kind = "mkhomedir_failed"
	KindMkhomedirConnect   Kind = "mkhomedird_connect"
	KindMkhomedirGroupDel  Kind = "mkhomedir_group_delete"
	KindNscdflushdConnect  Kind = "nscdflushd_connect"
	KindFlushFailed        Kind = "flush_failed"
	KindUserMismatch       Kind = "user_mismatch"
	KindUserAddFailed      Kind = "user_add_failed"
	KindResolveTimeout     Kind = "resolve_timeout"
	KindUID                Kind = "uid"
	KindGID                Kind = "gid"
	KindUsername           Kind = "username"
	KindGroupname          Kind = "groupname"
	KindTokenInvalid       Kind = "token_invalid"
	KindTokenExpired       Kind = "token_expired"
	KindInProgress         Kind = "in_progress"
	KindLDAP               Kind = "ldap"
	KindBug                Kind = "bug"
)

// statusByKind is the authoritative Kind -> HTTP status mapping.
var statusByKind = map[Kind]int{
	KindUserNotFound:      http.StatusNotFound,
	KindUserExists:        http.StatusInternalServerError,
	KindGroupExists:       http.StatusInternalServerError,
	KindUnauthorized:      http.StatusForbidden,
	KindNotAMember:        http.StatusForbidden,
	KindPrimaryGroup:      http.StatusForbidden,
	KindKerberosFailed:    http.StatusInternalServerError,
	KindMkhomedirFailed:   http.StatusInternalServerError,
	KindMkhomedirConnect:  http.StatusInternalServerError,
	KindMkhomedirGroupDel: http.StatusInternalServerError,
	KindNscdflushdConnect: http.StatusInternalServerError,
	KindFlushFailed:       http.StatusInternalServerError,
	KindUserMismatch:      http.StatusInternalServerError,
	KindUserAddFailed:     http.StatusInternalServerError,
	KindResolveTimeout:    http.StatusInternalServerError,
	KindUID:               http.StatusInternalServerError,
	KindGID:               http.StatusInternalServerError,
	KindUsername:          http.StatusInternalServerError,
	KindGroupname:         http.StatusInternalServerError,
	KindTokenInvalid:      http.StatusForbidden,
	KindTokenExpired:      http.StatusForbidden,
	KindInProgress:        http.StatusAccepted,
	KindLDAP:              http.StatusInternalServerError,
	KindBug:               http.StatusInternalServerError,
}

// Error is the error type every usermgr operation returns on failure.
// Cause, when present, is logged but never exposed in the HTTP response
// body beyond Kind.
type Error struct {
	Kind   Kind
	Cause  error
	detail string
}

func (e *Error) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.detail)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code a handler should respond with.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New builds an Error of the given kind with an optional human-readable
// detail (not wrapping any underlying error).
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, detail: detail}
}

// Wrap builds an Error of the given kind around a causing error.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Bug wraps an unanticipated error as KindBug. Per the error handling
// design, bugs are never swallowed: callers must still log the stack.
func Bug(cause error) *Error {
	return &Error{Kind: KindBug, Cause: cause}
}

// As extracts a *Error from err, synthesizing a KindBug wrapper if err
// is not already one of ours.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if ok := errorsAs(err, &e); ok {
		return e
	}
	return Bug(err)
}

// errorsAs is a hand-rolled equivalent of errors.As for *Error: it
// walks the single-error Unwrap chain until it finds one.
func errorsAs(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
