/*
Package ldap provides a connection-pooled client for the plain OpenLDAP
directory that backs usermgrd: posixAccount/posixGroup/inetOrgPerson
entries under a single configured base DN, reached over a simple bind.

# Connection management

Client wraps a ConnectionPool that dials the servers named by
ConnectionConfig.LDAPURLs, authenticates new connections with the
configured bind DN/password, and retries transient failures with
exponential backoff.

# Errors

LDAPError categorizes failures (connection, authentication, not_found,
conflict, ...) so callers can distinguish "entry already exists" from
"no such object" without inspecting raw LDAP result codes.

# Example

	client, err := ldap.NewClient(&ldap.ConnectionConfig{
		LDAPURLs: []string{"ldap://ldap.cluster.internal"},
		BaseDN:   "dc=cluster,dc=internal",
		Username: "cn=usermgrd,dc=cluster,dc=internal",
		Password: "...",
	})
	if err != nil {
		return err
	}
	defer client.Close()
*/
package ldap
