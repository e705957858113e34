// Command nscdflushd flushes the host's NSS caches (sssd, then nscd)
// on request. It must run as root to invalidate system caches that
// ordinary users can't touch.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/cacheflush"
	"github.com/leibniz-hpc/usermgrd/internal/logging"
)

func main() {
	socketPath := "/run/usermgrd/nscdflushd.sock"
	if v := os.Getenv("USERMGRD_NSCDFLUSHD_SOCKET"); v != "" {
		socketPath = v
	}

	log, err := logging.New("nscdflushd", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "nscdflushd: building logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	srv := cacheflush.NewServer(log)

	_ = os.Remove(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		log.Fatal("listening on socket", zap.Error(err))
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		log.Fatal("chmod socket", zap.Error(err))
	}

	log.Info("nscdflushd listening", zap.String("socket", socketPath))
	if err := http.Serve(listener, srv.Router()); err != nil {
		log.Fatal("serving HTTP", zap.Error(err))
	}
}
