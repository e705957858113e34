package usermgr

import (
	"context"

	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/allocator"
	"github.com/leibniz-hpc/usermgrd/internal/ldap"
	"github.com/leibniz-hpc/usermgrd/internal/nsscache"
	"github.com/leibniz-hpc/usermgrd/internal/usermgrerr"
)

// CreateGroupResult is the body of a successful POST /group response.
type CreateGroupResult struct {
	Status  string   `json:"status"`
	Group   string   `json:"group"`
	GID     uint32   `json:"gid"`
	Members []string `json:"members"`
}

// CreateGroup provisions a new group owned by the authenticated
// principal. If requestedName is empty, or every owner-name candidate
// is taken, the group is named from its own allocated gid instead
// (the "group-<quint>" fallback).
func (o *Orchestrator) CreateGroup(ctx context.Context, authenticatedPrincipal, requestedName string) (*CreateGroupResult, error) {
	owner, err := o.resolver.LookupUser(authenticatedPrincipal)
	if err != nil {
		if nsscache.IsNotFound(err) {
			return nil, usermgrerr.New(usermgrerr.KindUnauthorized, "authenticated principal has no account")
		}
		return nil, usermgrerr.Bug(err)
	}
	if owner.UID < uint32(o.cfg.MinUID) || owner.UID >= uint32(o.cfg.MaxUID) {
		return nil, usermgrerr.New(usermgrerr.KindUnauthorized, "owner uid outside managed range")
	}

	// gid arrives already reserved: see the comment on uidTaken.
	gid, err := allocator.AllocateID(uint32(o.cfg.MinGID), uint32(o.cfg.MaxGID), o.gidTaken, usermgrerr.KindGID)
	if err != nil {
		return nil, err
	}
	defer o.reservations.ReleaseID(gid)

	var groupName string
	if requestedName != "" {
		groupName, err = allocator.AllocateGroupname(owner.Username, requestedName, allocator.DefaultOptions(), o.groupnameTaken)
	}
	if requestedName == "" || err != nil {
		groupName = allocator.QuintGroupname(gid)
		if o.groupnameTaken(groupName) {
			return nil, usermgrerr.New(usermgrerr.KindGroupname, "generated group name already taken")
		}
	}
	defer o.reservations.ReleaseName(groupName)

	scope := o.newScope()

	addReq := ldap.NewGroupAddRequest(o.cfg.LDAPBaseGroup, ldap.GroupAttrs{
		Name:      groupName,
		GID:       gid,
		MemberUID: []string{owner.Username},
	})
	if err := o.ldap.Add(ctx, addReq); err != nil {
		if ldap.IsConflictError(err) {
			return nil, usermgrerr.New(usermgrerr.KindGroupExists, groupName)
		}
		return nil, usermgrerr.Wrap(usermgrerr.KindLDAP, err)
	}

	groupDN := ldap.GroupDN(o.cfg.LDAPBaseGroup, groupName)
	scope.Push(func(ctx context.Context) error { return o.ldap.Delete(ctx, groupDN) })
	scope.PushAsync(func(ctx context.Context) error { return o.cacheflush.FlushAccount(ctx) })

	if err := o.waitForGroupConsistency(ctx, groupName, gid, true); err != nil {
		scope.Unwind(ctx)
		return nil, err
	}

	scope.Discard()
	o.log.Info("created group", zap.String("group", groupName), zap.Uint32("gid", gid))
	return &CreateGroupResult{
		Status:  "ok",
		Group:   groupName,
		GID:     gid,
		Members: []string{owner.Username},
	}, nil
}
