package usermgr

import (
	"context"
	"errors"
	"strings"
	"sync"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/leibniz-hpc/usermgrd/internal/config"
	"github.com/leibniz-hpc/usermgrd/internal/kadmin"
	"github.com/leibniz-hpc/usermgrd/internal/ldap"
	"github.com/leibniz-hpc/usermgrd/internal/nsscache"
	"github.com/leibniz-hpc/usermgrd/internal/usermgrerr"
)

var errBoom = errors.New("boom")

// fakeLDAP is an in-memory stand-in for ldap.Client good enough to
// drive the orchestrator's happy and rollback paths. When resolver is
// set, writes are mirrored into it immediately so tests don't have to
// sit through the orchestrator's real NSS consistency-wait polling.
type fakeLDAP struct {
	mu       sync.Mutex
	entries  map[string]map[string][]string // dn -> attr -> values
	resolver *fakeResolver
}

func newFakeLDAP() *fakeLDAP {
	return &fakeLDAP{entries: make(map[string]map[string][]string)}
}

// newFakeLDAPWithResolver wires r so that Add/Delete/Modify keep it in
// sync with the entries fakeLDAP holds, standing in for instantaneous
// NSS propagation.
func newFakeLDAPWithResolver(r *fakeResolver) *fakeLDAP {
	return &fakeLDAP{entries: make(map[string]map[string][]string), resolver: r}
}

func attrVal(attrs map[string][]string, name string) string {
	if v := attrs[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func parseUint32(s string) uint32 {
	var n uint32
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + uint32(c-'0')
	}
	return n
}

func (f *fakeLDAP) syncEntryLocked(dn string, attrs map[string][]string) {
	if f.resolver == nil {
		return
	}
	switch {
	case attrVal(attrs, "uidNumber") != "" && attrVal(attrs, "homeDirectory") != "":
		f.resolver.putUserAt(dn, &nsscache.Account{
			Username: attrVal(attrs, "uid"),
			UID:      parseUint32(attrVal(attrs, "uidNumber")),
			GID:      parseUint32(attrVal(attrs, "gidNumber")),
			HomeDir:  attrVal(attrs, "homeDirectory"),
		})
	case attrVal(attrs, "gidNumber") != "":
		f.resolver.putGroupAt(dn, &nsscache.Group{
			Name:    attrVal(attrs, "cn"),
			GID:     parseUint32(attrVal(attrs, "gidNumber")),
			Members: append([]string{}, attrs["memberUid"]...),
		})
	}
}

func (f *fakeLDAP) Connect(ctx context.Context) error           { return nil }
func (f *fakeLDAP) Close() error                                { return nil }
func (f *fakeLDAP) Bind(ctx context.Context, u, p string) error { return nil }
func (f *fakeLDAP) BindWithConfig(ctx context.Context) error    { return nil }
func (f *fakeLDAP) Ping(ctx context.Context) error              { return nil }

func (f *fakeLDAP) Add(ctx context.Context, req *ldap.AddRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.entries[req.DN]; exists {
		return ldap.NewLDAPError("add", goldap.NewError(goldap.LDAPResultEntryAlreadyExists, nil))
	}
	cp := make(map[string][]string, len(req.Attributes))
	for k, v := range req.Attributes {
		cp[k] = append([]string{}, v...)
	}
	f.entries[req.DN] = cp
	f.syncEntryLocked(req.DN, cp)
	return nil
}

func (f *fakeLDAP) Delete(ctx context.Context, dn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.entries[dn]; !exists {
		return ldap.NewLDAPError("delete", goldap.NewError(goldap.LDAPResultNoSuchObject, nil))
	}
	delete(f.entries, dn)
	if f.resolver != nil {
		f.resolver.deleteByDN(dn)
	}
	return nil
}

func (f *fakeLDAP) Modify(ctx context.Context, req *ldap.ModifyRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	attrs, exists := f.entries[req.DN]
	if !exists {
		return ldap.NewLDAPError("modify", goldap.NewError(goldap.LDAPResultNoSuchObject, nil))
	}
	for attr, values := range req.AddAttributes {
		attrs[attr] = append(attrs[attr], values...)
	}
	for attr, values := range req.DeleteValues {
		for _, v := range values {
			attrs[attr] = removeString(attrs[attr], v)
		}
	}
	for _, attr := range req.DeleteAttributes {
		delete(attrs, attr)
	}
	f.syncEntryLocked(req.DN, attrs)
	return nil
}

func (f *fakeLDAP) Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var entries []*goldap.Entry
	for dn, attrs := range f.entries {
		if len(dn) < len(req.BaseDN) || dn[len(dn)-len(req.BaseDN):] != req.BaseDN {
			continue
		}
		// Honor the one filter clause garbage collection depends on:
		// a group that still has members is not "empty".
		if strings.Contains(req.Filter, "(!(memberUid=*))") && len(attrs["memberUid"]) > 0 {
			continue
		}
		e := &goldap.Entry{DN: dn}
		for name, values := range attrs {
			e.Attributes = append(e.Attributes, &goldap.EntryAttribute{Name: name, Values: values})
		}
		entries = append(entries, e)
	}
	return &ldap.SearchResult{Entries: entries, Total: len(entries)}, nil
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// fakeKadmin is an in-memory KerberosAdmin.
type fakeKadmin struct {
	mu         sync.Mutex
	principals map[string]bool
	failAdd    bool
}

func newFakeKadmin() *fakeKadmin { return &fakeKadmin{principals: map[string]bool{}} }

func (f *fakeKadmin) AddPrincipal(ctx context.Context, name, password, expire string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd {
		return errBoom
	}
	f.principals[name] = true
	return nil
}

func (f *fakeKadmin) GetPrincipal(ctx context.Context, name string) (kadmin.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.principals[name] {
		return nil, usermgrerr.New(usermgrerr.KindUserNotFound, name)
	}
	return kadmin.Principal{"Principal": name}, nil
}

func (f *fakeKadmin) DeletePrincipal(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.principals, name)
	return nil
}

// fakeHomedir is an in-memory HomedirClient.
type fakeHomedir struct {
	mu      sync.Mutex
	created map[string]bool
	failNew bool
}

func newFakeHomedir() *fakeHomedir { return &fakeHomedir{created: map[string]bool{}} }

func (f *fakeHomedir) CreateUser(ctx context.Context, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNew {
		return errBoom
	}
	f.created[user] = true
	return nil
}

func (f *fakeHomedir) RequestDeleteToken(ctx context.Context, user string) (string, error) {
	return "token-" + user, nil
}
func (f *fakeHomedir) ConfirmDelete(ctx context.Context, user, token string) error { return nil }
func (f *fakeHomedir) DeleteGroupDirectories(ctx context.Context, gidList string) error {
	return nil
}

// fakeCacheFlusher is a no-op CacheFlusher.
type fakeCacheFlusher struct{}

func (fakeCacheFlusher) FlushAccount(ctx context.Context) error { return nil }

// fakeResolver is an in-memory NameResolver seeded directly by tests,
// standing in for the NSS lookup path (nscd/sssd/LDAP) in-process.
type fakeResolver struct {
	mu        sync.Mutex
	users     map[string]*nsscache.Account
	byUID     map[uint32]*nsscache.Account
	groups    map[string]*nsscache.Group
	byGID     map[uint32]*nsscache.Group
	dnToUser  map[string]string
	dnToGroup map[string]string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		users:     map[string]*nsscache.Account{},
		byUID:     map[uint32]*nsscache.Account{},
		groups:    map[string]*nsscache.Group{},
		byGID:     map[uint32]*nsscache.Group{},
		dnToUser:  map[string]string{},
		dnToGroup: map[string]string{},
	}
}

func (f *fakeResolver) putUser(a *nsscache.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[a.Username] = a
	f.byUID[a.UID] = a
}

func (f *fakeResolver) putGroup(g *nsscache.Group) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[g.Name] = g
	f.byGID[g.GID] = g
}

// putUserAt/putGroupAt additionally remember which DN produced the
// record, so a later Delete of that DN can retract it.
func (f *fakeResolver) putUserAt(dn string, a *nsscache.Account) {
	f.putUser(a)
	f.mu.Lock()
	f.dnToUser[dn] = a.Username
	f.mu.Unlock()
}

func (f *fakeResolver) putGroupAt(dn string, g *nsscache.Group) {
	f.putGroup(g)
	f.mu.Lock()
	f.dnToGroup[dn] = g.Name
	f.mu.Unlock()
}

func (f *fakeResolver) deleteByDN(dn string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := f.dnToUser[dn]; ok {
		if a := f.users[name]; a != nil {
			delete(f.byUID, a.UID)
		}
		delete(f.users, name)
		delete(f.dnToUser, dn)
	}
	if name, ok := f.dnToGroup[dn]; ok {
		if g := f.groups[name]; g != nil {
			delete(f.byGID, g.GID)
		}
		delete(f.groups, name)
		delete(f.dnToGroup, dn)
	}
}

func (f *fakeResolver) LookupUser(name string) (*nsscache.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.users[name]; ok {
		return a, nil
	}
	return nil, nsscache.NewNotFoundError("user " + name + " not found")
}

func (f *fakeResolver) LookupUID(uid uint32) (*nsscache.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.byUID[uid]; ok {
		return a, nil
	}
	return nil, nsscache.NewNotFoundError("uid not found")
}

func (f *fakeResolver) LookupGroup(name string) (*nsscache.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.groups[name]; ok {
		return g, nil
	}
	return nil, nsscache.NewNotFoundError("group " + name + " not found")
}

func (f *fakeResolver) LookupGID(gid uint32) (*nsscache.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.byGID[gid]; ok {
		return g, nil
	}
	return nil, nsscache.NewNotFoundError("gid not found")
}

func testConfig() *config.Config {
	return &config.Config{
		MinUID:              10000,
		MaxUID:              20000,
		MinGID:              10000,
		MaxGID:              20000,
		LDAPBasePeople:      "ou=people,dc=cluster,dc=internal",
		LDAPBaseGroup:       "ou=groups,dc=cluster,dc=internal",
		HomeTemplate:        "/home/{user}",
		AuthorizationCreate: "admin/admin",
	}
}
