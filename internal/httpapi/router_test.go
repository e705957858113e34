package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/spnego"
	"github.com/leibniz-hpc/usermgrd/internal/usermgr"
	"github.com/leibniz-hpc/usermgrd/internal/usermgrerr"
)

type fakeOrchestrator struct {
	createUserResult *usermgr.CreateUserResult
	err              error
	gotPrincipal     string
}

func (f *fakeOrchestrator) CreateUser(ctx context.Context, principal string, req usermgr.CreateUserRequest) (*usermgr.CreateUserResult, error) {
	f.gotPrincipal = principal
	return f.createUserResult, f.err
}
func (f *fakeOrchestrator) DeleteUser(ctx context.Context, authenticatedPrincipal string) (*usermgr.DeleteUserResult, error) {
	f.gotPrincipal = authenticatedPrincipal
	if f.err != nil {
		return nil, f.err
	}
	return &usermgr.DeleteUserResult{Status: "ok"}, nil
}
func (f *fakeOrchestrator) CreateGroup(ctx context.Context, principal, name string) (*usermgr.CreateGroupResult, error) {
	return nil, f.err
}
func (f *fakeOrchestrator) AddMember(ctx context.Context, principal, group, user string) (*usermgr.StatusResult, error) {
	return nil, f.err
}
func (f *fakeOrchestrator) RemoveMember(ctx context.Context, principal, group string) (*usermgr.StatusResult, error) {
	return nil, f.err
}

func TestHandleCreateUser_PassesAuthenticatedPrincipal(t *testing.T) {
	fo := &fakeOrchestrator{createUserResult: &usermgr.CreateUserResult{Status: "ok", User: "alovelace"}}
	h := handleCreateUser(fo, zap.NewNop())

	body := strings.NewReader(`{"firstName":"Ada","lastName":"Lovelace"}`)
	req := httptest.NewRequest(http.MethodPost, "/user", body)
	req = req.WithContext(spnego.WithPrincipal(req.Context(), "admin/admin"))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if fo.gotPrincipal != "admin/admin" {
		t.Errorf("expected the authenticated principal to reach the orchestrator, got %q", fo.gotPrincipal)
	}
	var result usermgr.CreateUserResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.User != "alovelace" {
		t.Errorf("unexpected body: %+v", result)
	}
}

func TestHandleDeleteUser_UsesAuthenticatedPrincipalNotURL(t *testing.T) {
	fo := &fakeOrchestrator{}
	h := handleDeleteUser(fo, zap.NewNop())

	req := httptest.NewRequest(http.MethodDelete, "/user", nil)
	req = req.WithContext(spnego.WithPrincipal(req.Context(), "alovelace@CLUSTER.EXAMPLE"))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if fo.gotPrincipal != "alovelace@CLUSTER.EXAMPLE" {
		t.Errorf("expected the authenticated principal to reach the orchestrator, got %q", fo.gotPrincipal)
	}
}

func TestHandleCreateUser_BadJSON(t *testing.T) {
	h := handleCreateUser(&fakeOrchestrator{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/user", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestWriteError_MapsKindToStatus(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, zap.NewNop(), usermgrerr.New(usermgrerr.KindUserNotFound, "nobody"))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["status"] != "user_not_found" {
		t.Errorf("expected status user_not_found, got %q", body["status"])
	}
}
