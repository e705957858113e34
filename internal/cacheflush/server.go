package cacheflush

import (
	"encoding/json"
	"net/http"
	"os/exec"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server implements nscdflushd: it flushes the local NSS caches (sssd,
// then nscd) so the lookups usermgrd's consistency waits perform see a
// just-written LDAP change promptly instead of waiting out the
// caches' own TTL.
type Server struct {
	log *zap.Logger
}

// NewServer returns a Server ready to be wired into a router.
func NewServer(log *zap.Logger) *Server {
	return &Server{log: log}
}

// Router builds the mux.Router nscdflushd serves.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/account", s.handleFlush).Methods(http.MethodDelete)
	return r
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	// Flush the last-level cache (sssd) before the first-level one
	// (nscd), so nscd doesn't immediately repopulate from stale sssd data.
	if code, err := run(s.log, "sss_cache", "-U", "-G"); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "sss_failed", "code": code})
		return
	}
	if code, err := run(s.log, "nscd", "-i", "passwd", "-i", "group"); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "nscd_failed", "code": code})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func run(log *zap.Logger, name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	log.Info("ran flush command", zap.String("command", name), zap.Strings("args", args), zap.Int("exit_code", code), zap.ByteString("output", out))
	if err != nil {
		return code, err
	}
	return code, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
