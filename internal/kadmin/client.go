// Package kadmin administers Kerberos principals by driving the
// kadmin command-line client as a subprocess. No maintained Go library
// wraps kadmin's admin protocol, so this package speaks to it the way
// the reference implementation did: an expect-style dialogue over the
// subprocess's stdin/stdout, which keeps the principal's password off
// the command line and out of the process table.
package kadmin

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/usermgrerr"
)

// readSize matches the reference implementation's fixed read size for
// each expected kadmin prompt; prompts are always shorter than this.
const readSize = 512

// Client drives a configured kadmin admin principal/keytab pair.
type Client struct {
	commonArgs []string
	log        *zap.Logger
	timeout    time.Duration
}

// New returns a Client that authenticates as adminUser using keytabFile.
func New(adminUser, keytabFile string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		commonArgs: []string{"-k", "-t", keytabFile, "-p", adminUser},
		log:        log.Named("kadmin"),
		timeout:    30 * time.Second,
	}
}

func (c *Client) command(ctx context.Context, args ...string) *exec.Cmd {
	full := append(append([]string{}, c.commonArgs...), args...)
	return exec.CommandContext(ctx, "kadmin", full...)
}

// AddPrincipal creates name with password, expiring at expire (a
// kadmin-format expiry string, e.g. "never" or "90 days"), requiring
// preauthentication and disallowing server (service) use of the ticket.
func (c *Client) AddPrincipal(ctx context.Context, name, password, expire string) error {
	if expire == "" {
		expire = "never"
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := c.command(ctx, "add_principal", "+requires_preauth", "-allow_svr", "-expire", expire, name)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return usermgrerr.Wrap(usermgrerr.KindKerberosFailed, fmt.Errorf("kadmin: stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return usermgrerr.Wrap(usermgrerr.KindKerberosFailed, fmt.Errorf("kadmin: stdout pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return usermgrerr.Wrap(usermgrerr.KindKerberosFailed, fmt.Errorf("kadmin: starting: %w", err))
	}

	r := bufio.NewReaderSize(stdout, readSize)

	if err := c.expect(r, "Enter password for principal "); err != nil {
		_ = cmd.Process.Kill()
		return usermgrerr.Wrap(usermgrerr.KindKerberosFailed, err)
	}
	if _, err := io.WriteString(stdin, password+"\n"); err != nil {
		_ = cmd.Process.Kill()
		return usermgrerr.Wrap(usermgrerr.KindKerberosFailed, fmt.Errorf("kadmin: writing password: %w", err))
	}

	if err := c.expect(r, "\nRe-enter password for principal "); err != nil {
		_ = cmd.Process.Kill()
		return usermgrerr.Wrap(usermgrerr.KindKerberosFailed, err)
	}
	if _, err := io.WriteString(stdin, password+"\n"); err != nil {
		_ = cmd.Process.Kill()
		return usermgrerr.Wrap(usermgrerr.KindKerberosFailed, fmt.Errorf("kadmin: writing password confirmation: %w", err))
	}

	if err := c.expect(r, "\n"); err != nil {
		_ = cmd.Process.Kill()
		return usermgrerr.Wrap(usermgrerr.KindKerberosFailed, err)
	}

	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		c.log.Warn("add_principal failed", zap.String("principal", name), zap.Error(err))
		return usermgrerr.Wrap(usermgrerr.KindKerberosFailed, err)
	}
	return nil
}

// expect reads up to readSize bytes from r and requires them to begin
// with want, mirroring the reference implementation's bounded-read
// assertions.
func (c *Client) expect(r *bufio.Reader, want string) error {
	buf := make([]byte, readSize)
	n, err := io.ReadAtLeast(r, buf, len(want))
	if err != nil && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("kadmin: reading prompt: %w", err)
	}
	got := buf[:n]
	if !bytes.HasPrefix(got, []byte(want)) {
		return fmt.Errorf("kadmin: unexpected prompt %q, want prefix %q", got, want)
	}
	return nil
}

// Principal holds the key: value fields kadmin's get_principal prints.
type Principal map[string]string

// GetPrincipal returns name's attributes, or a usermgrerr of kind
// user_not_found if kadmin reports no such principal.
func (c *Client) GetPrincipal(ctx context.Context, name string) (Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := c.command(ctx, "get_principal", name)
	cmd.Stdin = nil

	out, err := cmd.Output()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return nil, usermgrerr.New(usermgrerr.KindUserNotFound, fmt.Sprintf("no such principal %q", name))
		}
		return nil, usermgrerr.Wrap(usermgrerr.KindKerberosFailed, fmt.Errorf("kadmin: get_principal: %w", err))
	}

	princ := Principal{}
	for _, line := range strings.Split(string(out), "\n") {
		k, v, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		princ[k] = v
	}
	return princ, nil
}

// DeletePrincipal force-deletes name (no confirmation prompt). Callers
// that need to treat a missing principal as a warning rather than a
// hard failure should call GetPrincipal first, per the delete-user
// orchestration contract.
func (c *Client) DeletePrincipal(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := c.command(ctx, "delete_principal", "-force", name)
	cmd.Stdin = nil

	if err := cmd.Run(); err != nil {
		return usermgrerr.Wrap(usermgrerr.KindKerberosFailed, fmt.Errorf("kadmin: delete_principal %s: %w", name, err))
	}
	return nil
}
