package ldap

import "testing"

func TestClient_IsRetryableError(t *testing.T) {
	c := &client{}

	if c.isRetryableError(nil) {
		t.Fatal("nil error should not be retryable")
	}

	retryable := NewConnectionError("timeout", true, nil)
	if !c.isRetryableError(retryable) {
		t.Fatal("ConnectionError marked retryable should be retryable")
	}

	nonRetryable := NewConnectionError("bad request", false, nil)
	if c.isRetryableError(nonRetryable) {
		t.Fatal("ConnectionError marked non-retryable should not be retryable")
	}
}
