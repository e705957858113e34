package nsscache

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// groupMembers shells out to getent, the standard NSS client tool,
// to read a group's member list the same way libc's getgrnam(3)
// would. os/user exposes gid/name lookups via cgo but has no API for
// the member list, so this is the one place nsscache reaches outside
// the os/user package.
func groupMembers(name string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "getent", "group", name).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 2 {
			return nil, &notFoundError{detail: fmt.Sprintf("group %q not found", name)}
		}
		return nil, fmt.Errorf("nsscache: getent group %s: %w", name, err)
	}

	fields := bytes.SplitN(bytes.TrimSpace(out), []byte(":"), 4)
	if len(fields) < 4 || len(fields[3]) == 0 {
		return nil, nil
	}
	return strings.Split(string(fields[3]), ","), nil
}
