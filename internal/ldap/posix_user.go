package ldap

import (
	"fmt"
	"regexp"
	"strconv"
)

// keepASCIIPattern matches everything keepASCII strips:
// directory-unsafe characters that aren't alphanumerics, space, or
// "@+-". It mirrors the reference implementation's keepAscii filter,
// applied to free-text fields (email, gecos) pulled from a request
// body before they're written into an LDAP entry.
var keepASCIIPattern = regexp.MustCompile(`[^0-9a-zA-Z @+-]+`)

// keepASCII strips s down to the character set safe to embed in an
// LDAP attribute value without escaping concerns.
func keepASCII(s string) string {
	return keepASCIIPattern.ReplaceAllString(s, "")
}

// UserAttrs holds the fields needed to create one posixAccount entry.
type UserAttrs struct {
	Username           string
	UID                uint32
	GID                uint32
	GivenName          string
	Surname            string
	Email              string
	Authorization      string
	HomeDirectory      string
	LoginShell         string
	ExtraObjectClasses []string
}

// baseUserObjectClasses is the fixed posixAccount/inetOrgPerson stack
// every managed account gets; ExtraObjectClasses is appended for
// site-specific schema (e.g. a local "clusterAccount" auxiliary class).
var baseUserObjectClasses = []string{
	"top", "person", "organizationalPerson", "inetOrgPerson", "posixAccount", "shadowAccount",
}

// NewUserAddRequest builds the AddRequest for a new account under
// basePeopleDN, in the shape the consistency-wait and delete-user
// paths expect to find it in again.
func NewUserAddRequest(basePeopleDN string, a UserAttrs) *AddRequest {
	classes := append(append([]string{}, baseUserObjectClasses...), a.ExtraObjectClasses...)

	cn := a.GivenName + " " + a.Surname
	gecos := keepASCII(cn)
	mail := keepASCII(a.Email)
	description := keepASCII(a.Authorization)

	return &AddRequest{
		DN: fmt.Sprintf("uid=%s,%s", EscapeDNValue(a.Username), basePeopleDN),
		Attributes: map[string][]string{
			"objectClass":   classes,
			"sn":            {a.Surname},
			"cn":            {cn},
			"givenName":     {a.GivenName},
			"mail":          {mail},
			"uid":           {a.Username},
			"uidNumber":     {strconv.FormatUint(uint64(a.UID), 10)},
			"gidNumber":     {strconv.FormatUint(uint64(a.GID), 10)},
			"homeDirectory": {a.HomeDirectory},
			"loginShell":    {a.LoginShell},
			"gecos":         {gecos},
			"description":   {description},
		},
	}
}

// UserDN returns the DN a managed account lives at.
func UserDN(basePeopleDN, username string) string {
	return fmt.Sprintf("uid=%s,%s", EscapeDNValue(username), basePeopleDN)
}

// SearchUserByUID builds a SearchRequest that finds an account by
// uidNumber under basePeopleDN.
func SearchUserByUID(basePeopleDN string, uid uint32) *SearchRequest {
	return &SearchRequest{
		BaseDN:     basePeopleDN,
		Filter:     fmt.Sprintf("(&(objectClass=posixAccount)(uidNumber=%d))", uid),
		Attributes: []string{"uid", "uidNumber", "gidNumber"},
		Scope:      ScopeSingleLevel,
	}
}

// SearchUserByName builds a SearchRequest that finds an account by uid
// (login name) under basePeopleDN.
func SearchUserByName(basePeopleDN, username string) *SearchRequest {
	return &SearchRequest{
		BaseDN:     basePeopleDN,
		Filter:     fmt.Sprintf("(&(objectClass=posixAccount)(uid=%s))", EscapeDNValue(username)),
		Attributes: []string{"uid", "uidNumber", "gidNumber"},
		Scope:      ScopeSingleLevel,
	}
}
