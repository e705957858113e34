package usermgrerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindUserNotFound, http.StatusNotFound},
		{KindUserExists, http.StatusInternalServerError},
		{KindUnauthorized, http.StatusForbidden},
		{KindNotAMember, http.StatusForbidden},
		{KindPrimaryGroup, http.StatusForbidden},
		{KindTokenInvalid, http.StatusForbidden},
		{KindTokenExpired, http.StatusForbidden},
		{KindInProgress, http.StatusAccepted},
		{KindBug, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := New(tt.kind, "")
			if got := e.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	e := Wrap(KindLDAP, cause)

	if !errors.Is(e, cause) {
		t.Error("Wrap() should preserve the cause for errors.Is")
	}
	if e.HTTPStatus() != http.StatusInternalServerError {
		t.Errorf("HTTPStatus() = %d, want 500", e.HTTPStatus())
	}
}

func TestAs_WrapsUnknownErrorAsBug(t *testing.T) {
	plain := fmt.Errorf("unexpected nil pointer")
	e := As(plain)

	if e.Kind != KindBug {
		t.Errorf("Kind = %q, want %q", e.Kind, KindBug)
	}
	if !errors.Is(e, plain) {
		t.Error("As() should preserve the original error as the cause")
	}
}

func TestAs_PassesThroughExistingError(t *testing.T) {
	original := New(KindUserNotFound, "no such user")
	if got := As(original); got != original {
		t.Error("As() should return the same *Error instance unchanged")
	}
}

func TestAs_Nil(t *testing.T) {
	if got := As(nil); got != nil {
		t.Errorf("As(nil) = %v, want nil", got)
	}
}
