// Command mkhomedird creates and tears down managed home directories.
// It must run with the privilege to chown into arbitrary uids
// (CAP_CHOWN), which is deliberately kept out of usermgrd itself.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/config"
	"github.com/leibniz-hpc/usermgrd/internal/logging"
	"github.com/leibniz-hpc/usermgrd/internal/mkhomedir"
)

func main() {
	defaultConfig := "/etc/usermgrd/mkhomedird.yaml"
	if p := os.Getenv("SETTINGS_FILE"); p != "" {
		defaultConfig = p
	}
	configFile := flag.String("config", defaultConfig, "configuration file path (default from SETTINGS_FILE when set)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkhomedird: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New("mkhomedird", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkhomedird: building logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	srv := mkhomedir.New(cfg, log)

	_ = os.Remove(cfg.MkhomedirdSocket)
	listener, err := net.Listen("unix", cfg.MkhomedirdSocket)
	if err != nil {
		log.Fatal("listening on socket", zap.Error(err))
	}
	if err := os.Chmod(cfg.MkhomedirdSocket, 0o600); err != nil {
		log.Fatal("chmod socket", zap.Error(err))
	}

	log.Info("mkhomedird listening", zap.String("socket", cfg.MkhomedirdSocket))
	if err := http.Serve(listener, srv.Router()); err != nil {
		log.Fatal("serving HTTP", zap.Error(err))
	}
}
