// Package mkhomedir implements the home-directory-creation daemon:
// it listens on a Unix socket only usermgrd can reach and materializes
// (or tears down) the directories a managed account owns, running with
// the privilege (root, or CAP_CHOWN) usermgrd itself deliberately
// doesn't carry.
package mkhomedir

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/config"
)

// tokenLifetime bounds how long a delete token stays valid, mirroring
// the reference daemon's 60-second window between requesting a token
// and confirming the delete.
const tokenLifetime = 60 * time.Second

type pendingToken struct {
	issued   time.Time
	username string
}

// Server holds mkhomedird's process-wide state: which users currently
// have a create in flight (to reject concurrent duplicate requests)
// and which delete tokens are outstanding.
type Server struct {
	cfg *config.Config
	log *zap.Logger

	mu      sync.Mutex
	running map[string]bool
	tokens  map[string]pendingToken
}

// New returns a Server ready to be wired into a router.
func New(cfg *config.Config, log *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		log:     log,
		running: map[string]bool{},
		tokens:  map[string]pendingToken{},
	}
}

// Router builds the mux.Router mkhomedird serves.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/user/{user}", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/user/{user}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/group/{gids}", s.handleDeleteGroup).Methods(http.MethodDelete)
	return r
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["user"]
	log := s.log.With(zap.String("user", username))

	s.mu.Lock()
	if s.running[username] {
		s.mu.Unlock()
		log.Warn("create already in progress")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "in_progress"})
		return
	}
	s.running[username] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, username)
		s.mu.Unlock()
	}()

	account, err := user.Lookup(username)
	if err != nil {
		log.Error("user not found")
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "user_not_found"})
		return
	}
	uid, _ := strconv.Atoi(account.Uid)
	gid, _ := strconv.Atoi(account.Gid)

	for pathTemplate, rule := range s.cfg.Directories {
		if rule.Create == "" || rule.Create == "false" {
			continue
		}
		dir := expandTemplate(pathTemplate, account)

		log.Info("creating directory", zap.String("dir", dir))
		if err := os.Mkdir(dir, 0o750); err != nil {
			if os.IsExist(err) {
				writeJSON(w, http.StatusConflict, map[string]string{"status": "homedir_exists"})
				return
			}
			log.Error("mkdir failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "mkdir_failed"})
			return
		}
		if err := os.Chown(dir, uid, gid); err != nil {
			log.Error("chown failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "chown_failed"})
			return
		}

		if rule.Create != "true" {
			if err := copySkeleton(rule.Create, dir, uid, gid, log); err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "copy_skeleton_failed"})
				return
			}
			_ = os.Chmod(dir, 0o750)
		}
	}

	log.Info("home directory created")
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["user"]
	token := r.URL.Query().Get("token")
	log := s.log.With(zap.String("user", username))

	if token == "" {
		s.mu.Lock()
		newToken, err := randomToken()
		if err != nil {
			s.mu.Unlock()
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "bug"})
			return
		}
		s.tokens[newToken] = pendingToken{issued: nowFunc(), username: username}
		s.mu.Unlock()

		log.Info("delete token issued")
		writeJSON(w, http.StatusOK, map[string]string{"status": "again", "token": newToken})
		return
	}

	s.mu.Lock()
	pending, ok := s.tokens[token]
	s.mu.Unlock()
	if !ok || pending.username != username {
		log.Error("invalid delete token")
		writeJSON(w, http.StatusForbidden, map[string]string{"status": "token_invalid"})
		return
	}
	if nowFunc().Sub(pending.issued) > tokenLifetime {
		log.Error("expired delete token")
		writeJSON(w, http.StatusForbidden, map[string]string{"status": "token_expired"})
		return
	}

	if _, err := user.Lookup(username); err == nil {
		log.Error("user still exists, refusing to delete home directory")
		writeJSON(w, http.StatusForbidden, map[string]string{"status": "user_exists"})
		return
	}

	var gids, uids []string
	for pathTemplate, rule := range s.cfg.Directories {
		dir := expandTemplateStatic(pathTemplate, username)
		if rule.Delete {
			if _, err := os.Stat(dir); err == nil {
				log.Info("removing directory", zap.String("dir", dir))
				if err := os.RemoveAll(dir); err != nil {
					log.Error("removing directory failed", zap.Error(err))
				}
			}
		}
		if rule.DeleteGroup {
			gids = append(gids, pathTemplate)
		}
	}
	_ = gids
	_ = uids
	if err := revokeACL(nil, []string{username}, nil, log); err != nil {
		log.Warn("revoking ACLs failed", zap.Error(err))
	}

	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()

	log.Info("home directory deleted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	gidList := mux.Vars(r)["gids"]
	gids := strings.Split(gidList, ",")
	for _, g := range gids {
		if _, err := strconv.Atoi(g); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "invalid_gid"})
			return
		}
	}

	var dirs []string
	for pathTemplate, rule := range s.cfg.Directories {
		if rule.DeleteGroup {
			dirs = append(dirs, pathTemplate)
		}
	}
	if err := revokeACL(dirs, nil, gids, s.log); err != nil {
		s.log.Warn("revoking group ACLs failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// expandTemplate renders a "{user}"-style directory template against a
// resolved account.
func expandTemplate(pathTemplate string, account *user.User) string {
	return strings.ReplaceAll(pathTemplate, "{user}", account.Username)
}

func expandTemplateStatic(pathTemplate, username string) string {
	return strings.ReplaceAll(pathTemplate, "{user}", username)
}

// copySkeleton mirrors a skeleton directory into dir via rsync, so
// newly created directories can be seeded with starter content the way
// the reference daemon does.
func copySkeleton(skeleton, dir string, uid, gid int, log *zap.Logger) error {
	addSlash := func(p string) string {
		if strings.HasSuffix(p, "/") {
			return p
		}
		return p + "/"
	}
	cmd := exec.Command("rsync", "-av", fmt.Sprintf("--chown=%d:%d", uid, gid), addSlash(skeleton), addSlash(dir))
	log.Info("copying skeleton", zap.Strings("command", cmd.Args))
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Error("rsync failed", zap.ByteString("output", out), zap.Error(err))
		return err
	}
	return nil
}

// revokeACL strips any stale facl entries for removed users/groups
// from the given directories, the one-level-up cleanup the reference
// daemon performs since the directory itself is already gone.
func revokeACL(dirs, usernames, gids []string, log *zap.Logger) error {
	if len(dirs) == 0 || (len(usernames) == 0 && len(gids) == 0) {
		return nil
	}
	args := []string{"-R"}
	for _, u := range usernames {
		args = append(args, "-x", "u:"+u, "-x", "d:u:"+u)
	}
	for _, g := range gids {
		args = append(args, "-x", "g:"+g, "-x", "d:g:"+g)
	}
	args = append(args, "--")
	args = append(args, dirs...)

	cmd := exec.Command("setfacl", args...)
	log.Info("revoking acl", zap.Strings("command", cmd.Args))
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Error("setfacl failed", zap.ByteString("output", out), zap.Error(err))
		return err
	}
	return nil
}

func randomToken() (string, error) {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// nowFunc is a seam for tests to control token expiry without
// sleeping real time.
var nowFunc = time.Now

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
