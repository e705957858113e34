package ldap

import (
	"fmt"
	"strconv"
)

var baseGroupObjectClasses = []string{"top", "posixGroup"}

// GroupAttrs holds the fields needed to create one posixGroup entry.
type GroupAttrs struct {
	Name      string
	GID       uint32
	MemberUID []string
}

// NewGroupAddRequest builds the AddRequest for a new group under
// baseGroupDN.
func NewGroupAddRequest(baseGroupDN string, a GroupAttrs) *AddRequest {
	attrs := map[string][]string{
		"objectClass": baseGroupObjectClasses,
		"cn":          {a.Name},
		"gidNumber":   {strconv.FormatUint(uint64(a.GID), 10)},
	}
	if len(a.MemberUID) > 0 {
		attrs["memberUid"] = a.MemberUID
	}
	return &AddRequest{
		DN:         fmt.Sprintf("cn=%s,%s", EscapeDNValue(a.Name), baseGroupDN),
		Attributes: attrs,
	}
}

// GroupDN returns the DN a managed group lives at.
func GroupDN(baseGroupDN, name string) string {
	return fmt.Sprintf("cn=%s,%s", EscapeDNValue(name), baseGroupDN)
}

// SearchGroupByGID builds a SearchRequest that finds a group by
// gidNumber under baseGroupDN.
func SearchGroupByGID(baseGroupDN string, gid uint32) *SearchRequest {
	return &SearchRequest{
		BaseDN:     baseGroupDN,
		Filter:     fmt.Sprintf("(&(objectClass=posixGroup)(gidNumber=%d))", gid),
		Attributes: []string{"cn", "gidNumber", "memberUid"},
		Scope:      ScopeSingleLevel,
	}
}

// SearchGroupByName builds a SearchRequest that finds a group by cn
// under baseGroupDN.
func SearchGroupByName(baseGroupDN, name string) *SearchRequest {
	return &SearchRequest{
		BaseDN:     baseGroupDN,
		Filter:     fmt.Sprintf("(&(objectClass=posixGroup)(cn=%s))", EscapeDNValue(name)),
		Attributes: []string{"cn", "gidNumber", "memberUid"},
		Scope:      ScopeSingleLevel,
	}
}

// SearchGroupsByMember builds a SearchRequest that finds every group
// username is a memberUid of, under baseGroupDN.
func SearchGroupsByMember(baseGroupDN, username string) *SearchRequest {
	return &SearchRequest{
		BaseDN:     baseGroupDN,
		Filter:     fmt.Sprintf("(&(objectClass=posixGroup)(memberUid=%s))", EscapeDNValue(username)),
		Attributes: []string{"cn", "gidNumber", "memberUid"},
		Scope:      ScopeSingleLevel,
	}
}

// SearchEmptyGroups builds a SearchRequest that finds every managed
// group with no members at all, for garbage collection.
func SearchEmptyGroups(baseGroupDN string, minGID, maxGID uint32) *SearchRequest {
	return &SearchRequest{
		BaseDN:     baseGroupDN,
		Filter:     fmt.Sprintf("(&(objectClass=posixGroup)(gidNumber>=%d)(gidNumber<=%d)(!(memberUid=*)))", minGID, maxGID),
		Attributes: []string{"cn", "gidNumber"},
		Scope:      ScopeSingleLevel,
	}
}

// SearchPrimaryGroupUsers builds a SearchRequest that finds accounts
// under basePeopleDN whose primary gidNumber is gid, used to decide
// whether a group is still someone's primary group before deleting it.
func SearchPrimaryGroupUsers(basePeopleDN string, gid uint32) *SearchRequest {
	return &SearchRequest{
		BaseDN:     basePeopleDN,
		Filter:     fmt.Sprintf("(&(objectClass=posixAccount)(gidNumber=%d))", gid),
		Attributes: []string{"uid"},
		Scope:      ScopeSingleLevel,
	}
}
