// Package usermgr implements the account-lifecycle operations the
// HTTP surface exposes: creating and deleting accounts, creating
// groups, and managing group membership. It is the orchestration
// layer that drives LDAP, Kerberos, the homedir daemon and the cache
// flusher in the right order, with rollback on partial failure for the
// operations that need it.
package usermgr

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/allocator"
	"github.com/leibniz-hpc/usermgrd/internal/config"
	"github.com/leibniz-hpc/usermgrd/internal/kadmin"
	"github.com/leibniz-hpc/usermgrd/internal/ldap"
	"github.com/leibniz-hpc/usermgrd/internal/nsscache"
	"github.com/leibniz-hpc/usermgrd/internal/rollback"
	"github.com/leibniz-hpc/usermgrd/internal/usermgrerr"
)

// consistencyWaitAttempts and consistencyWaitInterval bound how long
// Orchestrator waits for an NSS lookup to reflect a just-written LDAP
// change, absorbing nscd/sssd cache replication lag.
const (
	consistencyWaitAttempts = 60
	consistencyWaitInterval = time.Second
)

// KerberosAdmin is the subset of kadmin.Client the orchestrator needs;
// declared here so tests can substitute a fake without driving a real
// kadmin subprocess.
type KerberosAdmin interface {
	AddPrincipal(ctx context.Context, name, password, expire string) error
	GetPrincipal(ctx context.Context, name string) (kadmin.Principal, error)
	DeletePrincipal(ctx context.Context, name string) error
}

// HomedirClient is the subset of homedir.Client the orchestrator needs.
type HomedirClient interface {
	CreateUser(ctx context.Context, user string) error
	RequestDeleteToken(ctx context.Context, user string) (string, error)
	ConfirmDelete(ctx context.Context, user, token string) error
	DeleteGroupDirectories(ctx context.Context, gidList string) error
}

// CacheFlusher is the subset of cacheflush.Client the orchestrator needs.
type CacheFlusher interface {
	FlushAccount(ctx context.Context) error
}

// NameResolver is the subset of nsscache.Resolver the orchestrator needs.
type NameResolver interface {
	LookupUser(name string) (*nsscache.Account, error)
	LookupUID(uid uint32) (*nsscache.Account, error)
	LookupGroup(name string) (*nsscache.Group, error)
	LookupGID(gid uint32) (*nsscache.Group, error)
}

// Orchestrator wires together every backend usermgr's operations
// depend on.
type Orchestrator struct {
	cfg          *config.Config
	ldap         ldap.Client
	kadmin       KerberosAdmin
	homedir      HomedirClient
	cacheflush   CacheFlusher
	resolver     NameResolver
	reservations *allocator.ReservationSet
	log          *zap.Logger
}

// New returns an Orchestrator ready to serve requests.
func New(cfg *config.Config, ldapClient ldap.Client, kadminClient KerberosAdmin, homedirClient HomedirClient, cacheflushClient CacheFlusher, resolver NameResolver, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		cfg:          cfg,
		ldap:         ldapClient,
		kadmin:       kadminClient,
		homedir:      homedirClient,
		cacheflush:   cacheflushClient,
		resolver:     resolver,
		reservations: allocator.NewReservationSet(),
		log:          log,
	}
}

// generatePassword returns a 32-character random password drawn from
// an alphanumeric alphabet. Kerberos principals are created with this
// as their initial secret; accounts change it later out of band.
func generatePassword() (string, error) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	const length = 32

	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", fmt.Errorf("usermgr: generating password: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// uidTaken reports whether uid is already claimed, either durably (NSS
// can resolve it) or provisionally (another in-flight request in this
// process reserved it) — and, as a side effect, reserves uid in this
// process the moment it finds it free, atomically with the check.
// Passed as the allocator's taken predicate, this closes the
// check-then-reserve race a separate post-hoc ReserveID call would
// leave open: two concurrent callers can never both see the same
// candidate as free, since the NSS check and the reservation happen
// under one lock hold in TryReserveID. The allocator loop calls this
// at most once per candidate, so whichever uid it finally returns is
// already reserved; callers must still release it (via defer) once
// the request either commits the id durably or fails.
func (o *Orchestrator) uidTaken(uid uint32) bool {
	return !o.reservations.TryReserveID(uid, func(id uint32) bool {
		_, err := o.resolver.LookupUID(id)
		return err == nil
	})
}

// usernameTaken is uidTaken's username-side counterpart.
func (o *Orchestrator) usernameTaken(name string) bool {
	return !o.reservations.TryReserveName(name, func(n string) bool {
		_, err := o.resolver.LookupUser(n)
		return err == nil
	})
}

// groupnameTaken is uidTaken's group-name-side counterpart.
func (o *Orchestrator) groupnameTaken(name string) bool {
	return !o.reservations.TryReserveName(name, func(n string) bool {
		_, err := o.resolver.LookupGroup(n)
		return err == nil
	})
}

// gidTaken is uidTaken's gid-side counterpart.
func (o *Orchestrator) gidTaken(gid uint32) bool {
	return !o.reservations.TryReserveID(gid, func(id uint32) bool {
		_, err := o.resolver.LookupGID(id)
		return err == nil
	})
}

// homeDirectory renders the configured home-directory template for user.
func (o *Orchestrator) homeDirectory(user string) string {
	return strings.ReplaceAll(o.cfg.HomeTemplate, "{user}", user)
}

// waitForUserConsistency polls NameService until the given username
// and uid resolve to each other, flushing the NSS cache each attempt.
// Returns usermgrerr.KindUserMismatch if a resolution appears but
// disagrees, or KindUserAddFailed on timeout.
func (o *Orchestrator) waitForUserConsistency(ctx context.Context, username string, uid uint32) error {
	for i := 0; i < consistencyWaitAttempts; i++ {
		_ = o.cacheflush.FlushAccount(ctx)

		byName, errName := o.resolver.LookupUser(username)
		byUID, errUID := o.resolver.LookupUID(uid)

		if errName == nil && errUID == nil {
			if byName.UID != uid || byUID.Username != username {
				return usermgrerr.New(usermgrerr.KindUserMismatch, fmt.Sprintf("%s resolves to uid %d, uid %d resolves to %s", username, byName.UID, uid, byUID.Username))
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return usermgrerr.Wrap(usermgrerr.KindUserAddFailed, ctx.Err())
		case <-time.After(consistencyWaitInterval):
		}
	}
	return usermgrerr.New(usermgrerr.KindUserAddFailed, "timed out waiting for NSS consistency")
}

// waitForGroupConsistency is waitForUserConsistency's group-side
// counterpart, used by create-group.
func (o *Orchestrator) waitForGroupConsistency(ctx context.Context, name string, gid uint32, wantPresent bool) error {
	for i := 0; i < consistencyWaitAttempts; i++ {
		_ = o.cacheflush.FlushAccount(ctx)

		_, err := o.resolver.LookupGroup(name)
		present := err == nil

		if present == wantPresent {
			return nil
		}

		select {
		case <-ctx.Done():
			return usermgrerr.Wrap(usermgrerr.KindResolveTimeout, ctx.Err())
		case <-time.After(consistencyWaitInterval):
		}
	}
	return usermgrerr.New(usermgrerr.KindResolveTimeout, "timed out waiting for group NSS consistency")
}

func (o *Orchestrator) newScope() *rollback.Scope {
	return rollback.New(o.log)
}
