package mkhomedir

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/config"
)

func testServer() *Server {
	return New(&config.Config{Directories: map[string]config.DirectoryRule{}}, zap.NewNop())
}

func decodeStatus(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func TestHandleDelete_RequiresToken(t *testing.T) {
	s := testServer()
	r := s.Router()

	req := httptest.NewRequest(http.MethodDelete, "/user/ghost-user-xyz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := decodeStatus(t, w)
	if body["status"] != "again" || body["token"] == "" {
		t.Fatalf("expected a fresh delete token, got %+v", body)
	}
}

func TestHandleDelete_RejectsMismatchedUser(t *testing.T) {
	s := testServer()
	s.tokens["tok"] = pendingToken{issued: time.Now(), username: "alovelace"}

	r := s.Router()
	req := httptest.NewRequest(http.MethodDelete, "/user/cbabbage?token=tok", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if decodeStatus(t, w)["status"] != "token_invalid" {
		t.Errorf("expected token_invalid, got %+v", w.Body.String())
	}
}

func TestHandleDelete_RejectsExpiredToken(t *testing.T) {
	s := testServer()
	s.tokens["tok"] = pendingToken{issued: time.Now().Add(-2 * tokenLifetime), username: "ghost-user-xyz"}

	r := s.Router()
	req := httptest.NewRequest(http.MethodDelete, "/user/ghost-user-xyz?token=tok", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if decodeStatus(t, w)["status"] != "token_expired" {
		t.Errorf("expected token_expired, got %+v", w.Body.String())
	}
}

func TestHandleDeleteGroup_RejectsInvalidGID(t *testing.T) {
	s := testServer()
	r := s.Router()

	req := httptest.NewRequest(http.MethodDelete, "/group/abc,123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleDeleteGroup_AcceptsValidGIDs(t *testing.T) {
	s := testServer()
	r := s.Router()

	req := httptest.NewRequest(http.MethodDelete, "/group/1000,1001", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
