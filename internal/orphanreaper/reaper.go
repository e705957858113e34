// Package orphanreaper kills processes whose real uid no longer
// resolves to an account: the last resort cleanup for jobs left
// running under a uid usermgrd has already deleted, translating the
// reference "Kill Them With Kindness" daemon.
package orphanreaper

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// MinUID is the lowest uid this reaper will ever consider killing;
// system processes below it are never touched even if their uid looks
// unresolvable (a misconfigured nsswitch should not lead to init being
// sent SIGKILL).
const MinUID = 1000

// process is the /proc/<pid>/status data the reaper needs.
type process struct {
	pid    int
	realUID int
}

// Reaper periodically scans /proc for processes owned by a uid that no
// longer resolves via NSS, and kills them.
type Reaper struct {
	log      *zap.Logger
	interval time.Duration
	resolves func(uid int) bool
}

// New returns a Reaper that polls every interval. resolves reports
// whether uid still names a real account; it is normally an os/user
// (NSS) lookup, but
// is a seam so this package's tests don't have to own real uids.
func New(log *zap.Logger, interval time.Duration, resolves func(uid int) bool) *Reaper {
	return &Reaper{log: log, interval: interval, resolves: resolves}
}

// Run blocks, sweeping for orphaned processes every interval until ctx
// is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.sweep()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Reaper) sweep() {
	r.log.Debug("searching for orphaned processes")
	procs, err := listProcesses()
	if err != nil {
		r.log.Error("listing /proc failed", zap.Error(err))
		return
	}

	for _, p := range procs {
		if p.realUID < MinUID {
			continue
		}
		if r.resolves(p.realUID) {
			continue
		}

		r.log.Info("killing orphaned process", zap.Int("pid", p.pid), zap.Int("uid", p.realUID))
		if err := syscall.Kill(p.pid, syscall.SIGKILL); err != nil {
			if err == syscall.ESRCH {
				continue // already gone
			}
			r.log.Error("kill failed", zap.Int("pid", p.pid), zap.Error(err))
		}
	}
}

// listProcesses enumerates every PID directory under /proc and reads
// its real uid out of /proc/<pid>/status. A process that disappears
// mid-scan is silently skipped, same as the reference daemon.
func listProcesses() ([]process, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("orphanreaper: reading /proc: %w", err)
	}

	var procs []process
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		uid, err := readRealUID(pid)
		if err != nil {
			continue
		}
		procs = append(procs, process{pid: pid, realUID: uid})
	}
	return procs, nil
}

func readRealUID(pid int) (int, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "Uid" {
			continue
		}
		fields := strings.Fields(value)
		if len(fields) == 0 {
			return 0, fmt.Errorf("orphanreaper: malformed Uid line %q", line)
		}
		return strconv.Atoi(fields[0])
	}
	return 0, fmt.Errorf("orphanreaper: no Uid line in /proc/%d/status", pid)
}
