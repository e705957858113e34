// Command usermgrd is the cluster account-lifecycle control plane: it
// serves CreateUser/DeleteUser/CreateGroup/membership requests over a
// Kerberos-authenticated HTTP socket, writing to LDAP and driving
// kadmin, mkhomedird and nscdflushd to keep POSIX accounts, Kerberos
// principals and home directories consistent with each other.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/jcmturner/gokrb5/v8/keytab"
	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/cacheflush"
	"github.com/leibniz-hpc/usermgrd/internal/config"
	"github.com/leibniz-hpc/usermgrd/internal/homedir"
	"github.com/leibniz-hpc/usermgrd/internal/httpapi"
	"github.com/leibniz-hpc/usermgrd/internal/kadmin"
	"github.com/leibniz-hpc/usermgrd/internal/ldap"
	"github.com/leibniz-hpc/usermgrd/internal/logging"
	"github.com/leibniz-hpc/usermgrd/internal/nsscache"
	"github.com/leibniz-hpc/usermgrd/internal/usermgr"
)

func main() {
	defaultConfig := "/etc/usermgrd/usermgrd.yaml"
	if p := os.Getenv("SETTINGS_FILE"); p != "" {
		defaultConfig = p
	}
	configFile := flag.String("config", defaultConfig, "configuration file path (default from SETTINGS_FILE when set)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "usermgrd: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New("usermgrd", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "usermgrd: building logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ldapClient, err := ldap.NewClient(&ldap.ConnectionConfig{
		LDAPURLs: []string{cfg.LDAPServer},
		BaseDN:   cfg.LDAPBasePeople,
		Username: cfg.LDAPUser,
		Password: cfg.LDAPPassword,
		Timeout:  30 * time.Second,
	})
	if err != nil {
		log.Fatal("building LDAP client", zap.Error(err))
	}
	if err := ldapClient.Connect(context.Background()); err != nil {
		log.Fatal("connecting to LDAP", zap.Error(err))
	}
	defer ldapClient.Close()
	if err := ldapClient.BindWithConfig(context.Background()); err != nil {
		log.Fatal("binding to LDAP", zap.Error(err))
	}

	kt, err := keytab.Load(cfg.KerberosKeytab)
	if err != nil {
		log.Fatal("loading kerberos keytab", zap.Error(err))
	}

	orchestrator := usermgr.New(
		cfg,
		ldapClient,
		kadmin.New(cfg.KerberosUser, cfg.KerberosKeytab, log),
		homedir.New(cfg.MkhomedirdSocket),
		cacheflush.New(cfg.NscdflushdSocket),
		nsscache.New(),
		log,
	)

	router := httpapi.NewRouter(orchestrator, kt, log)

	listener, err := listenUnix(cfg)
	if err != nil {
		log.Fatal("listening on socket", zap.Error(err))
	}

	server := &http.Server{Handler: router}
	go func() {
		log.Info("usermgrd listening", zap.String("socket", cfg.Socket))
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal("serving HTTP", zap.Error(err))
		}
	}()

	waitForShutdown(log, server)
}

// listenUnix opens the control socket and applies its configured
// owner/group/mode, since the directory it lives in is typically root
// owned and the socket itself is what gates which local users and
// daemons can reach usermgrd.
func listenUnix(cfg *config.Config) (net.Listener, error) {
	_ = os.Remove(cfg.Socket)
	l, err := net.Listen("unix", cfg.Socket)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Socket, err)
	}

	mode := os.FileMode(cfg.SocketMode)
	if mode == 0 {
		mode = 0660
	}
	if err := os.Chmod(cfg.Socket, mode); err != nil {
		return nil, fmt.Errorf("chmod %s: %w", cfg.Socket, err)
	}

	uid, gid := -1, -1
	if cfg.SocketUser != "" {
		if u, err := user.Lookup(cfg.SocketUser); err == nil {
			uid, _ = strconv.Atoi(u.Uid)
		}
	}
	if cfg.SocketGroup != "" {
		if g, err := user.LookupGroup(cfg.SocketGroup); err == nil {
			gid, _ = strconv.Atoi(g.Gid)
		}
	}
	if uid != -1 || gid != -1 {
		if err := os.Chown(cfg.Socket, uid, gid); err != nil {
			return nil, fmt.Errorf("chown %s: %w", cfg.Socket, err)
		}
	}
	return l, nil
}

func waitForShutdown(log *zap.Logger, server *http.Server) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("usermgrd shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
	}
}
