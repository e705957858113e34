package usermgr

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/leibniz-hpc/usermgrd/internal/ldap"
	"github.com/leibniz-hpc/usermgrd/internal/usermgrerr"
)

// garbageCollectGroups deletes every managed group left with no
// members, then asks mkhomedird to clean up any group-owned
// directories for the gids removed.
func (o *Orchestrator) garbageCollectGroups(ctx context.Context) error {
	result, err := o.ldap.Search(ctx, ldap.SearchEmptyGroups(o.cfg.LDAPBaseGroup, uint32(o.cfg.MinGID), uint32(o.cfg.MaxGID)))
	if err != nil {
		return usermgrerr.Wrap(usermgrerr.KindLDAP, err)
	}
	if len(result.Entries) == 0 {
		return nil
	}

	var gids []string
	for _, entry := range result.Entries {
		gidStr := entry.GetAttributeValue("gidNumber")
		if err := o.ldap.Delete(ctx, entry.DN); err != nil && !ldap.IsNotFoundError(err) {
			o.log.Warn("failed to delete empty group", zap.String("dn", entry.DN), zap.Error(err))
			continue
		}
		if gidStr != "" {
			gids = append(gids, gidStr)
		}
	}

	if len(gids) == 0 {
		return nil
	}
	if err := o.homedir.DeleteGroupDirectories(ctx, strings.Join(gids, ",")); err != nil {
		return err
	}
	return nil
}
