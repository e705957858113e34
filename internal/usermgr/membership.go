package usermgr

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/ldap"
	"github.com/leibniz-hpc/usermgrd/internal/nsscache"
	"github.com/leibniz-hpc/usermgrd/internal/usermgrerr"
)

// StatusResult is the body shared by every operation whose only
// response field on success is a status string.
type StatusResult struct {
	Status string `json:"status"`
}

// ensureManagedGroup resolves a group by name and checks it falls in the
// managed gid range, mirroring the reference implementation's
// ensureGroup guard against operating on system groups.
func (o *Orchestrator) ensureManagedGroup(groupName string) (*nsscache.Group, error) {
	group, err := o.resolver.LookupGroup(groupName)
	if err != nil {
		if nsscache.IsNotFound(err) {
			return nil, usermgrerr.New(usermgrerr.KindUserNotFound, groupName)
		}
		return nil, usermgrerr.Bug(err)
	}
	if group.GID < uint32(o.cfg.MinGID) || group.GID >= uint32(o.cfg.MaxGID) {
		return nil, usermgrerr.New(usermgrerr.KindUnauthorized, "gid outside managed range")
	}
	return group, nil
}

func isMember(group *nsscache.Group, username string) bool {
	for _, m := range group.Members {
		if m == username {
			return true
		}
	}
	return false
}

// AddMember adds targetUser to groupName. The authenticated principal
// must itself already be a member of the group; targetUser need only
// exist. Adding someone already present succeeds silently.
func (o *Orchestrator) AddMember(ctx context.Context, authenticatedPrincipal, groupName, targetUser string) (*StatusResult, error) {
	group, err := o.ensureManagedGroup(groupName)
	if err != nil {
		return nil, err
	}

	if _, err := o.resolver.LookupUser(authenticatedPrincipal); err != nil {
		if nsscache.IsNotFound(err) {
			return nil, usermgrerr.New(usermgrerr.KindUserNotFound, "you_do_not_exist_in_this_world")
		}
		return nil, usermgrerr.Bug(err)
	}
	if _, err := o.resolver.LookupUser(targetUser); err != nil {
		if nsscache.IsNotFound(err) {
			return nil, usermgrerr.New(usermgrerr.KindUserNotFound, targetUser)
		}
		return nil, usermgrerr.Bug(err)
	}

	if !isMember(group, authenticatedPrincipal) {
		return nil, usermgrerr.New(usermgrerr.KindNotAMember, authenticatedPrincipal)
	}

	if !isMember(group, targetUser) {
		groupDN := ldap.GroupDN(o.cfg.LDAPBaseGroup, groupName)
		err := o.ldap.Modify(ctx, &ldap.ModifyRequest{
			DN:            groupDN,
			AddAttributes: map[string][]string{"memberUid": {targetUser}},
		})
		if err != nil && !ldap.IsConflictError(err) {
			return nil, usermgrerr.Wrap(usermgrerr.KindLDAP, err)
		}
	}

	if err := o.waitForMembership(ctx, groupName, targetUser, true); err != nil {
		return nil, err
	}

	o.log.Info("added group member", zap.String("group", groupName), zap.String("user", targetUser))
	return &StatusResult{Status: "ok"}, nil
}

// RemoveMember removes the authenticated principal from groupName.
// There is no separate target user: accounts can only remove
// themselves from a group over this endpoint.
func (o *Orchestrator) RemoveMember(ctx context.Context, authenticatedPrincipal, groupName string) (*StatusResult, error) {
	group, err := o.ensureManagedGroup(groupName)
	if err != nil {
		return nil, err
	}

	account, err := o.resolver.LookupUser(authenticatedPrincipal)
	if err != nil {
		if nsscache.IsNotFound(err) {
			return nil, usermgrerr.New(usermgrerr.KindUserNotFound, authenticatedPrincipal)
		}
		return nil, usermgrerr.Bug(err)
	}

	primaryUsers, err := o.ldap.Search(ctx, ldap.SearchPrimaryGroupUsers(o.cfg.LDAPBasePeople, group.GID))
	if err != nil {
		return nil, usermgrerr.Wrap(usermgrerr.KindLDAP, err)
	}
	if len(primaryUsers.Entries) > 0 {
		return nil, usermgrerr.New(usermgrerr.KindPrimaryGroup, groupName)
	}

	if !isMember(group, account.Username) {
		return nil, usermgrerr.New(usermgrerr.KindNotAMember, account.Username)
	}

	groupDN := ldap.GroupDN(o.cfg.LDAPBaseGroup, groupName)
	err = o.ldap.Modify(ctx, &ldap.ModifyRequest{
		DN:           groupDN,
		DeleteValues: map[string][]string{"memberUid": {account.Username}},
	})
	if err != nil && !ldap.IsNotFoundError(err) {
		return nil, usermgrerr.Wrap(usermgrerr.KindLDAP, err)
	}

	if err := o.garbageCollectGroups(ctx); err != nil {
		return nil, err
	}

	if err := o.waitForMembership(ctx, groupName, account.Username, false); err != nil {
		return nil, err
	}

	o.log.Info("removed group member", zap.String("group", groupName), zap.String("user", account.Username))
	return &StatusResult{Status: "ok"}, nil
}

// waitForMembership polls NameService, flushing the cache each
// attempt, until username's presence in groupName's member list
// matches wantPresent. A group that has disappeared entirely (GC'd
// after its last member was removed) also satisfies wantPresent=false.
func (o *Orchestrator) waitForMembership(ctx context.Context, groupName, username string, wantPresent bool) error {
	for i := 0; i < consistencyWaitAttempts; i++ {
		_ = o.cacheflush.FlushAccount(ctx)

		group, err := o.resolver.LookupGroup(groupName)
		if err != nil {
			if nsscache.IsNotFound(err) && !wantPresent {
				return nil
			}
		} else if isMember(group, username) == wantPresent {
			return nil
		}

		select {
		case <-ctx.Done():
			return usermgrerr.Wrap(usermgrerr.KindResolveTimeout, ctx.Err())
		case <-time.After(consistencyWaitInterval):
		}
	}
	return usermgrerr.New(usermgrerr.KindResolveTimeout, "timed out waiting for membership change to resolve")
}
