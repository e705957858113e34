// Package httpapi exposes the usermgr orchestrator over HTTP: the
// wire shape is the one layer SPNEGO-authenticated clients (the
// cluster's PAM/NSS glue, web self-service portal, command-line
// tooling) actually speak to.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/spnego"
	"github.com/leibniz-hpc/usermgrd/internal/usermgr"
	"github.com/leibniz-hpc/usermgrd/internal/usermgrerr"
)

// Orchestrator is the subset of *usermgr.Orchestrator the router
// needs, narrowed so this package's tests don't have to stand up the
// full backend stack.
type Orchestrator interface {
	CreateUser(ctx context.Context, authenticatedPrincipal string, req usermgr.CreateUserRequest) (*usermgr.CreateUserResult, error)
	DeleteUser(ctx context.Context, authenticatedPrincipal string) (*usermgr.DeleteUserResult, error)
	CreateGroup(ctx context.Context, authenticatedPrincipal, requestedName string) (*usermgr.CreateGroupResult, error)
	AddMember(ctx context.Context, authenticatedPrincipal, groupName, targetUser string) (*usermgr.StatusResult, error)
	RemoveMember(ctx context.Context, authenticatedPrincipal, groupName string) (*usermgr.StatusResult, error)
}

// NewRouter builds the mux.Router for usermgrd's HTTP surface. Every
// route runs behind the SPNEGO middleware except where noted; the
// authenticated Kerberos principal is what authorization decisions in
// the orchestrator are made against.
func NewRouter(o Orchestrator, kt *keytab.Keytab, log *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	auth := spnego.Middleware(kt, log)

	r.Handle("/user", auth(handleCreateUser(o, log))).Methods(http.MethodPost)
	r.Handle("/user", auth(handleDeleteUser(o, log))).Methods(http.MethodDelete)
	r.Handle("/group/{group}", auth(handleCreateGroup(o, log))).Methods(http.MethodPost)
	r.Handle("/group/{group}", auth(handleRemoveMember(o, log))).Methods(http.MethodDelete)
	r.Handle("/group/{group}/{user}", auth(handleAddMember(o, log))).Methods(http.MethodPost)

	return r
}

func handleCreateUser(o Orchestrator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req usermgr.CreateUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "bad_request"})
			return
		}
		result, err := o.CreateUser(r.Context(), spnego.Principal(r.Context()), req)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

func handleDeleteUser(o Orchestrator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := o.DeleteUser(r.Context(), spnego.Principal(r.Context()))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleCreateGroup(o Orchestrator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestedName := mux.Vars(r)["group"]
		if requestedName == "-" {
			requestedName = ""
		}
		result, err := o.CreateGroup(r.Context(), spnego.Principal(r.Context()), requestedName)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

func handleAddMember(o Orchestrator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		result, err := o.AddMember(r.Context(), spnego.Principal(r.Context()), vars["group"], vars["user"])
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleRemoveMember(o Orchestrator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group := mux.Vars(r)["group"]
		result, err := o.RemoveMember(r.Context(), spnego.Principal(r.Context()), group)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	e := usermgrerr.As(err)
	if e.Kind == usermgrerr.KindBug {
		log.Error("unhandled error serving request", zap.Error(e.Cause))
	}
	writeJSON(w, e.HTTPStatus(), map[string]string{"status": string(e.Kind)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
