// Package allocator generates candidate UNIX usernames, group names,
// uids and gids for new accounts and groups, and the reservation sets
// that keep concurrent requests in the same process from racing each
// other onto the same candidate before it lands in LDAP/NSS.
package allocator

import (
	"fmt"
	"iter"
	"math/rand"
	"strconv"
	"sync"

	"github.com/leibniz-hpc/usermgrd/internal/usermgrerr"
)

// Identity holds the name fields a new-account request carries.
// Username is the caller's preferred login name, if any.
type Identity struct {
	Username  string
	FirstName string
	LastName  string
}

// Options tunes candidate generation. The zero value is not usable;
// call DefaultOptions and override as needed.
type Options struct {
	MaxLen int // maximum candidate length, suffix included
	MinLen int // minimum candidate length, after truncation
}

// DefaultOptions matches the limits of a traditional 16-character
// POSIX login field.
func DefaultOptions() Options {
	return Options{MaxLen: 16, MinLen: 3}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func valid(candidate string, opts Options) bool {
	return len(candidate) >= opts.MinLen && !isDigit(candidate[0])
}

// truncate cuts base to at most n characters.
func truncate(base string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(base) <= n {
		return base
	}
	return base[:n]
}

// candidates yields, in order: each base truncated to MaxLen (skipping
// invalid candidates); each base truncated to MaxLen-1 with suffixes
// 1..9; then each base truncated to MaxLen-2 with suffixes 10..99.
func candidates(bases []string, opts Options) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, base := range bases {
			c := truncate(base, opts.MaxLen)
			if !valid(c, opts) {
				continue
			}
			if !yield(c) {
				return
			}
		}
		for n := 1; n <= 9; n++ {
			suffix := strconv.Itoa(n)
			for _, base := range bases {
				c := truncate(base, opts.MaxLen-len(suffix)) + suffix
				if !valid(c, opts) {
					continue
				}
				if !yield(c) {
					return
				}
			}
		}
		for n := 10; n <= 99; n++ {
			suffix := strconv.Itoa(n)
			for _, base := range bases {
				c := truncate(base, opts.MaxLen-len(suffix)) + suffix
				if !valid(c, opts) {
					continue
				}
				if !yield(c) {
					return
				}
			}
		}
	}
}

// PossibleUsernames returns the candidate login-name sequence for
// identity: the caller's preferred username first (if given), then
// first-initial+last-name, each folded to ASCII and tried unsuffixed
// before numbered variants are tried.
func PossibleUsernames(identity Identity, opts Options) iter.Seq[string] {
	var bases []string
	if u := foldASCII(identity.Username); u != "" {
		bases = append(bases, u)
	}
	first := foldASCII(identity.FirstName)
	last := foldASCII(identity.LastName)
	if first != "" && last != "" {
		bases = append(bases, first[:1]+last)
	}
	return candidates(bases, opts)
}

// PossibleGroupnames returns the candidate group-name sequence for a
// new group owned by owner with the requested display name.
func PossibleGroupnames(owner, name string, opts Options) iter.Seq[string] {
	base := foldASCII(owner) + "-" + foldASCII(name)
	return candidates([]string{base}, opts)
}

// quintAlphabet is Crockford's base32 alphabet: 32 symbols, no
// ambiguous i/l/o/u, safe to read aloud or transcribe by hand.
const quintAlphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// EncodeQuint renders n as a base-32 string using quintAlphabet, the
// "quint" encoding used for generated user-<quint>/group-<quint> names
// when no human-chosen name is available.
func EncodeQuint(n uint32) string {
	if n == 0 {
		return string(quintAlphabet[0])
	}
	var b []byte
	for n > 0 {
		b = append([]byte{quintAlphabet[n%32]}, b...)
		n /= 32
	}
	return string(b)
}

// QuintUsername returns the "user-<quint>" fallback login name for an
// already-allocated uid.
func QuintUsername(uid uint32) string {
	return "user-" + EncodeQuint(uid)
}

// QuintGroupname returns the "group-<quint>" fallback name for an
// already-allocated gid.
func QuintGroupname(gid uint32) string {
	return "group-" + EncodeQuint(gid)
}

// draws is how many uniform samples are tried before a numeric id
// allocation gives up.
const draws = 100

// AllocateID draws up to 100 uniform samples from [min, max) and
// returns the first one taken reports as free. kind names the failure
// ("uid" or "gid") should every draw collide.
func AllocateID(min, max uint32, taken func(uint32) bool, kind usermgrerr.Kind) (uint32, error) {
	if max <= min {
		return 0, usermgrerr.New(kind, "empty id range")
	}
	span := max - min
	for i := 0; i < draws; i++ {
		candidate := min + uint32(rand.Int63n(int64(span)))
		if !taken(candidate) {
			return candidate, nil
		}
	}
	return 0, usermgrerr.New(kind, fmt.Sprintf("exhausted %d draws in [%d,%d)", draws, min, max))
}

// AllocateUsername walks PossibleUsernames until taken reports a
// candidate free, or the sequence is exhausted.
func AllocateUsername(identity Identity, opts Options, taken func(string) bool) (string, error) {
	for c := range PossibleUsernames(identity, opts) {
		if !taken(c) {
			return c, nil
		}
	}
	return "", usermgrerr.New(usermgrerr.KindUsername, "no candidate username available")
}

// AllocateGroupname walks PossibleGroupnames until taken reports a
// candidate free, or the sequence is exhausted.
func AllocateGroupname(owner, name string, opts Options, taken func(string) bool) (string, error) {
	for c := range PossibleGroupnames(owner, name, opts) {
		if !taken(c) {
			return c, nil
		}
	}
	return "", usermgrerr.New(usermgrerr.KindGroupname, "no candidate group name available")
}

// ReservationSet tracks identifiers claimed by in-flight requests in
// this process, before they are durably visible in LDAP/NSS. The
// original implementation relied on cooperative single-threaded
// scheduling for this discipline; this port uses a real mutex since
// usermgrd serves requests on goroutines.
type ReservationSet struct {
	mu    sync.Mutex
	names map[string]struct{}
	ids   map[uint32]struct{}
}

// NewReservationSet returns an empty reservation set.
func NewReservationSet() *ReservationSet {
	return &ReservationSet{
		names: make(map[string]struct{}),
		ids:   make(map[uint32]struct{}),
	}
}

// ReserveName claims name, returning false if it was already reserved.
func (r *ReservationSet) ReserveName(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; ok {
		return false
	}
	r.names[name] = struct{}{}
	return true
}

// TryReserveName claims name atomically against both this process's own
// reservations and durablyTaken (a durable-store lookup, e.g. NSS),
// holding the set's lock across both checks so two concurrent callers
// racing the same name can never both see it as free: whichever calls
// first reserves it, the other sees it already reserved. Returns false
// without reserving anything if name is taken either way.
func (r *ReservationSet) TryReserveName(name string, durablyTaken func(string) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; ok {
		return false
	}
	if durablyTaken(name) {
		return false
	}
	r.names[name] = struct{}{}
	return true
}

// ReleaseName releases a previously reserved name, e.g. on rollback.
func (r *ReservationSet) ReleaseName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.names, name)
}

// HasName reports whether name is currently reserved.
func (r *ReservationSet) HasName(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.names[name]
	return ok
}

// ReserveID claims id, returning false if it was already reserved.
func (r *ReservationSet) ReserveID(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

// TryReserveID is TryReserveName's id-side counterpart: checking
// against durablyTaken and claiming id happen under the same lock
// hold, so two concurrent allocators drawing the same candidate can
// never both walk away believing they reserved it.
func (r *ReservationSet) TryReserveID(id uint32, durablyTaken func(uint32) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return false
	}
	if durablyTaken(id) {
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

// ReleaseID releases a previously reserved id.
func (r *ReservationSet) ReleaseID(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, id)
}

// HasID reports whether id is currently reserved.
func (r *ReservationSet) HasID(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}
