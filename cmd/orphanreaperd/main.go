// Command orphanreaperd kills processes left running under a uid that
// no longer resolves to an account — cleanup for jobs orphaned by a
// usermgrd delete. It must run as root.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/logging"
	"github.com/leibniz-hpc/usermgrd/internal/orphanreaper"
)

func main() {
	log, err := logging.New("orphanreaperd", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "orphanreaperd: building logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	reaper := orphanreaper.New(log, 60*time.Second, uidResolves)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	log.Info("orphanreaperd starting")
	if err := reaper.Run(ctx); err != nil && err != context.Canceled {
		log.Fatal("reaper stopped", zap.Error(err))
	}
}

// uidResolves reports whether uid currently resolves to an account
// via the host's NSS configuration (getent's lookup path).
func uidResolves(uid int) bool {
	_, err := user.LookupId(strconv.Itoa(uid))
	return err == nil
}
