package usermgr

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/allocator"
	"github.com/leibniz-hpc/usermgrd/internal/ldap"
	"github.com/leibniz-hpc/usermgrd/internal/usermgrerr"
)

// CreateUserRequest is the body of POST /user.
type CreateUserRequest struct {
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Username      string `json:"username"`
	ORCID         string `json:"orcid"`
	Authorization string `json:"authorization"`
	Email         string `json:"email"`
}

// CreateUserResult is the body of a successful POST /user response.
type CreateUserResult struct {
	Status   string `json:"status"`
	User     string `json:"user"`
	Password string `json:"password"`
	UID      uint32 `json:"uid"`
	GID      uint32 `json:"gid"`
}

// CreateUser provisions a new account: it allocates a uid and login
// name, writes the account and its primary group to LDAP, waits for
// NSS to see both, creates the Kerberos principal and asks mkhomedird
// to lay down the home directory. A failure at any step after the
// first LDAP write unwinds every earlier step that succeeded; the
// whole operation is not safe to retry blindly
// once LDAP has been touched (retrying on user_exists will not help).
func (o *Orchestrator) CreateUser(ctx context.Context, authenticatedPrincipal string, req CreateUserRequest) (*CreateUserResult, error) {
	if authenticatedPrincipal != o.cfg.AuthorizationCreate {
		return nil, usermgrerr.New(usermgrerr.KindUnauthorized, "principal not authorized to create accounts")
	}

	// AllocateID's taken predicate (o.uidTaken) reserves the winning
	// candidate atomically as it finds it free, closing the
	// check-then-reserve race; uid arrives here already reserved.
	uid, err := allocator.AllocateID(uint32(o.cfg.MinUID), uint32(o.cfg.MaxUID), o.uidTaken, usermgrerr.KindUID)
	if err != nil {
		return nil, err
	}
	defer o.reservations.ReleaseID(uid)

	identity := allocator.Identity{Username: req.Username, FirstName: req.FirstName, LastName: req.LastName}
	username, err := allocator.AllocateUsername(identity, allocator.DefaultOptions(), o.usernameTaken)
	if err != nil {
		return nil, err
	}
	defer o.reservations.ReleaseName(username)

	scope := o.newScope()

	addReq := ldap.NewUserAddRequest(o.cfg.LDAPBasePeople, ldap.UserAttrs{
		Username:           username,
		UID:                uid,
		GID:                uid, // the primary-user account: uid == gid
		GivenName:          req.FirstName,
		Surname:            req.LastName,
		Email:              req.Email,
		Authorization:      req.Authorization,
		HomeDirectory:      o.homeDirectory(username),
		LoginShell:         "/bin/bash",
		ExtraObjectClasses: o.cfg.LDAPExtraClasses,
	})
	if err := o.ldap.Add(ctx, addReq); err != nil {
		if ldap.IsConflictError(err) {
			return nil, usermgrerr.New(usermgrerr.KindUserExists, username)
		}
		return nil, usermgrerr.Wrap(usermgrerr.KindLDAP, err)
	}

	userDN := ldap.UserDN(o.cfg.LDAPBasePeople, username)
	scope.Push(func(ctx context.Context) error { return o.ldap.Delete(ctx, userDN) })
	scope.PushAsync(func(ctx context.Context) error { return o.cacheflush.FlushAccount(ctx) })

	groupReq := ldap.NewGroupAddRequest(o.cfg.LDAPBaseGroup, ldap.GroupAttrs{
		Name:      username,
		GID:       uid,
		MemberUID: []string{username},
	})
	if err := o.ldap.Add(ctx, groupReq); err != nil {
		scope.Unwind(ctx)
		if ldap.IsConflictError(err) {
			return nil, usermgrerr.New(usermgrerr.KindGroupExists, username)
		}
		return nil, usermgrerr.Wrap(usermgrerr.KindLDAP, err)
	}
	groupDN := ldap.GroupDN(o.cfg.LDAPBaseGroup, username)
	scope.Push(func(ctx context.Context) error { return o.ldap.Delete(ctx, groupDN) })

	if err := o.waitForUserConsistency(ctx, username, uid); err != nil {
		scope.Unwind(ctx)
		return nil, err
	}

	password, err := generatePassword()
	if err != nil {
		scope.Unwind(ctx)
		return nil, usermgrerr.Bug(err)
	}

	expireAt := time.Now().Add(o.cfg.KerberosExpire).Format("2006-01-02 15:04:05")
	if err := o.kadmin.AddPrincipal(ctx, username, password, expireAt); err != nil {
		scope.Unwind(ctx)
		return nil, usermgrerr.Wrap(usermgrerr.KindKerberosFailed, err)
	}
	scope.Push(func(ctx context.Context) error { return o.kadmin.DeletePrincipal(ctx, username) })

	if err := o.homedir.CreateUser(ctx, username); err != nil {
		scope.Unwind(ctx)
		return nil, err
	}

	scope.Discard()
	o.log.Info("created account", zap.String("user", username), zap.Uint32("uid", uid))

	return &CreateUserResult{
		Status:   "ok",
		User:     username,
		Password: password,
		UID:      uid,
		GID:      uid,
	}, nil
}
