package usermgr

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/ldap"
	"github.com/leibniz-hpc/usermgrd/internal/nsscache"
	"github.com/leibniz-hpc/usermgrd/internal/usermgrerr"
)

// DeleteUserResult is the body of a successful DELETE /user response.
type DeleteUserResult struct {
	Status string `json:"status"`
}

// principalUser strips a Kerberos realm off principal ("alovelace@REALM"
// -> "alovelace"), the same split the reference implementation applies
// to the GSSAPI initiator name before treating it as a username.
func principalUser(principal string) string {
	name, _, _ := strings.Cut(principal, "@")
	return name
}

// DeleteUser removes the account of the authenticated principal: there
// is no separate target parameter, so no caller can ever delete an
// account other than its own. Unlike CreateUser this path is
// forward-only and retriable: every step tolerates the target already
// being gone (kadmin: missing principal, LDAP: no such object) so a
// retried delete after a partial failure converges instead of erroring.
func (o *Orchestrator) DeleteUser(ctx context.Context, authenticatedPrincipal string) (*DeleteUserResult, error) {
	username := principalUser(authenticatedPrincipal)

	account, err := o.resolver.LookupUser(username)
	if err != nil {
		if nsscache.IsNotFound(err) {
			return nil, usermgrerr.New(usermgrerr.KindUserNotFound, username)
		}
		return nil, usermgrerr.Bug(err)
	}

	if account.UID < uint32(o.cfg.MinUID) || account.UID >= uint32(o.cfg.MaxUID) {
		return nil, usermgrerr.New(usermgrerr.KindUnauthorized, "uid outside managed range")
	}

	if _, err := o.kadmin.GetPrincipal(ctx, username); err != nil {
		if e := usermgrerr.As(err); e.Kind == usermgrerr.KindUserNotFound {
			o.log.Warn("principal already absent", zap.String("user", username))
		} else {
			return nil, usermgrerr.Wrap(usermgrerr.KindKerberosFailed, err)
		}
	} else if err := o.kadmin.DeletePrincipal(ctx, username); err != nil {
		return nil, usermgrerr.Wrap(usermgrerr.KindKerberosFailed, err)
	}

	token, err := o.homedir.RequestDeleteToken(ctx, username)
	if err != nil {
		return nil, err
	}

	userDN := ldap.UserDN(o.cfg.LDAPBasePeople, username)
	if err := o.ldap.Delete(ctx, userDN); err != nil && !ldap.IsNotFoundError(err) {
		return nil, usermgrerr.Wrap(usermgrerr.KindLDAP, err)
	}

	groupDN := ldap.GroupDN(o.cfg.LDAPBaseGroup, username)
	if err := o.ldap.Delete(ctx, groupDN); err != nil && !ldap.IsNotFoundError(err) {
		return nil, usermgrerr.Wrap(usermgrerr.KindLDAP, err)
	}

	if err := o.removeFromAllGroups(ctx, username); err != nil {
		return nil, err
	}

	if err := o.garbageCollectGroups(ctx); err != nil {
		return nil, err
	}

	if err := o.cacheflush.FlushAccount(ctx); err != nil {
		return nil, err
	}

	if err := o.homedir.ConfirmDelete(ctx, username, token); err != nil {
		return nil, err
	}

	o.log.Info("deleted account", zap.String("user", username))
	return &DeleteUserResult{Status: "ok"}, nil
}

// removeFromAllGroups strips username out of every group's memberUid,
// used during account deletion since LDAP has no referential cleanup
// of its own.
func (o *Orchestrator) removeFromAllGroups(ctx context.Context, username string) error {
	result, err := o.ldap.Search(ctx, ldap.SearchGroupsByMember(o.cfg.LDAPBaseGroup, username))
	if err != nil {
		return usermgrerr.Wrap(usermgrerr.KindLDAP, err)
	}

	for _, entry := range result.Entries {
		err := o.ldap.Modify(ctx, &ldap.ModifyRequest{
			DN:           entry.DN,
			DeleteValues: map[string][]string{"memberUid": {username}},
		})
		if err != nil && !ldap.IsNotFoundError(err) {
			return usermgrerr.Wrap(usermgrerr.KindLDAP, err)
		}
	}
	return nil
}
