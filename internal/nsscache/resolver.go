// Package nsscache resolves POSIX account and group identities
// through the host's Name Service Switch (nscd/sssd/LDAP, whichever
// nsswitch.conf names), the same lookup path getent and libc use. It
// is how usermgr confirms that an LDAP write has actually propagated
// before telling a caller their account exists.
package nsscache

import (
	"fmt"
	"os/user"
	"strconv"
)

// Account mirrors the fields usermgr cares about from a passwd entry.
type Account struct {
	Username string
	UID      uint32
	GID      uint32
	HomeDir  string
}

// Group mirrors the fields usermgr cares about from a group entry.
type Group struct {
	Name    string
	GID     uint32
	Members []string
}

// notFoundError is this package's own "nothing found" error.
// IsNotFound recognizes it alongside the os/user Unknown*Error types,
// so callers can test for a missing user or group without depending
// on the os/user error types.
type notFoundError struct{ detail string }

func (e *notFoundError) Error() string { return e.detail }

// NewNotFoundError builds an error IsNotFound recognizes, for callers
// (including test fakes) that implement the Resolver interface
// without going through os/user.
func NewNotFoundError(detail string) error {
	return &notFoundError{detail: detail}
}

// IsNotFound reports whether err represents "no such user/group".
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	switch err.(type) {
	case user.UnknownUserError, user.UnknownUserIdError,
		user.UnknownGroupError, user.UnknownGroupIdError,
		*notFoundError:
		return true
	}
	return false
}

// Resolver reads the host's NSS configuration via os/user, which
// dispatches through the C library's nsswitch machinery (and so sees
// whatever nscd/sssd have cached, same as getent would).
type Resolver struct{}

// New returns a Resolver.
func New() *Resolver { return &Resolver{} }

// LookupUser resolves an account by login name.
func (r *Resolver) LookupUser(name string) (*Account, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, err
	}
	return toAccount(u)
}

// LookupUID resolves an account by numeric uid.
func (r *Resolver) LookupUID(uid uint32) (*Account, error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return nil, err
	}
	return toAccount(u)
}

// LookupGroup resolves a group by name.
func (r *Resolver) LookupGroup(name string) (*Group, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return nil, err
	}
	return r.toGroup(g)
}

// LookupGID resolves a group by numeric gid.
func (r *Resolver) LookupGID(gid uint32) (*Group, error) {
	g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10))
	if err != nil {
		return nil, err
	}
	return r.toGroup(g)
}

func toAccount(u *user.User) (*Account, error) {
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("nsscache: parsing uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("nsscache: parsing gid %q: %w", u.Gid, err)
	}
	return &Account{
		Username: u.Username,
		UID:      uint32(uid),
		GID:      uint32(gid),
		HomeDir:  u.HomeDir,
	}, nil
}

func (r *Resolver) toGroup(g *user.Group) (*Group, error) {
	gid, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("nsscache: parsing gid %q: %w", g.Gid, err)
	}
	members, err := groupMembers(g.Name)
	if err != nil {
		return nil, err
	}
	return &Group{Name: g.Name, GID: uint32(gid), Members: members}, nil
}
