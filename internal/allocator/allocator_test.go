package allocator

import (
	"sync"
	"testing"
)

func take(seq func(func(string) bool), n int) []string {
	var out []string
	for c := range seq {
		if len(out) == n {
			break
		}
		out = append(out, c)
	}
	return out
}

func TestPossibleUsernames_Basic(t *testing.T) {
	identity := Identity{Username: "foobar", FirstName: "foo", LastName: "bar"}
	got := take(PossibleUsernames(identity, DefaultOptions()), 4)
	want := []string{"foobar", "fbar", "foobar1", "fbar1"}
	assertStringSlice(t, got, want)
}

func TestPossibleUsernames_Transliteration(t *testing.T) {
	identity := Identity{FirstName: "هنا", LastName: "لطيف"}
	got := take(PossibleUsernames(identity, DefaultOptions()), 2)
	want := []string{"hltyf", "hltyf1"}
	assertStringSlice(t, got, want)
}

func TestPossibleUsernames_Truncation(t *testing.T) {
	identity := Identity{
		Username:  "veryverylongusernamerequested",
		FirstName: "MyLongFirstName",
		LastName:  "MyLongLastName",
	}
	opts := Options{MaxLen: 10, MinLen: 3}
	got := take(PossibleUsernames(identity, opts), 4)
	want := []string{"veryverylo", "mmylonglas", "veryveryl1", "mmylongla1"}
	assertStringSlice(t, got, want)
}

func TestPossibleUsernames_RejectsLeadingDigit(t *testing.T) {
	identity := Identity{Username: "0123456789", FirstName: "Joe", LastName: "User"}
	opts := Options{MaxLen: 10, MinLen: 3}
	got := take(PossibleUsernames(identity, opts), 1)
	want := []string{"juser"}
	assertStringSlice(t, got, want)
}

func TestPossibleGroupnames(t *testing.T) {
	// foldASCII strips the hyphen out of "compute-team" itself; only the
	// owner/name separator hyphen survives.
	got := take(PossibleGroupnames("alovelace", "compute-team", DefaultOptions()), 2)
	want := []string{"alovelace-comput", "alovelace-compu1"}
	assertStringSlice(t, got, want)
}

func TestAllocateUsername_SkipsTaken(t *testing.T) {
	identity := Identity{Username: "foobar", FirstName: "foo", LastName: "bar"}
	taken := map[string]bool{"foobar": true, "fbar": true}

	got, err := AllocateUsername(identity, DefaultOptions(), func(c string) bool { return taken[c] })
	if err != nil {
		t.Fatalf("AllocateUsername() error: %v", err)
	}
	if got != "foobar1" {
		t.Errorf("AllocateUsername() = %q, want %q", got, "foobar1")
	}
}

func TestAllocateUsername_Exhausted(t *testing.T) {
	identity := Identity{FirstName: "a", LastName: "b"}
	_, err := AllocateUsername(identity, DefaultOptions(), func(string) bool { return true })
	if err == nil {
		t.Fatal("expected error when every candidate is taken")
	}
}

func TestAllocateID_Exhausted(t *testing.T) {
	_, err := AllocateID(1000, 1001, func(uint32) bool { return true }, "uid")
	if err == nil {
		t.Fatal("expected error when the only id in range is taken")
	}
}

func TestAllocateID_FindsFree(t *testing.T) {
	// A tiny range keeps this deterministic in practice: with only two
	// candidates, 100 draws miss the free one with vanishing probability.
	id, err := AllocateID(1000, 1002, func(c uint32) bool { return c != 1001 }, "uid")
	if err != nil {
		t.Fatalf("AllocateID() error: %v", err)
	}
	if id != 1001 {
		t.Errorf("AllocateID() = %d, want 1001 (the only untaken id)", id)
	}
}

func TestEncodeQuint(t *testing.T) {
	if got := EncodeQuint(0); got != "0" {
		t.Errorf("EncodeQuint(0) = %q, want %q", got, "0")
	}
	if got := EncodeQuint(32); got != "10" {
		t.Errorf("EncodeQuint(32) = %q, want %q", got, "10")
	}
	if got := QuintUsername(32); got != "user-10" {
		t.Errorf("QuintUsername(32) = %q, want %q", got, "user-10")
	}
}

func TestReservationSet(t *testing.T) {
	r := NewReservationSet()

	if !r.ReserveName("alovelace") {
		t.Fatal("first reservation of a name should succeed")
	}
	if r.ReserveName("alovelace") {
		t.Fatal("second reservation of the same name should fail")
	}
	r.ReleaseName("alovelace")
	if !r.ReserveName("alovelace") {
		t.Fatal("name should be reservable again after release")
	}

	if !r.ReserveID(10042) {
		t.Fatal("first reservation of an id should succeed")
	}
	if r.ReserveID(10042) {
		t.Fatal("second reservation of the same id should fail")
	}
}

func TestTryReserveID_ConcurrentAllocatorsNeverCollide(t *testing.T) {
	r := NewReservationSet()
	const span = 20
	const workers = 50

	var wg sync.WaitGroup
	wins := make(chan uint32, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := AllocateID(1000, 1000+span, func(c uint32) bool {
				return !r.TryReserveID(c, func(uint32) bool { return false })
			}, "uid")
			if err == nil {
				wins <- id
			}
		}()
	}
	wg.Wait()
	close(wins)

	seen := make(map[uint32]bool)
	for id := range wins {
		if seen[id] {
			t.Fatalf("id %d was allocated to more than one concurrent caller", id)
		}
		seen[id] = true
	}
	if len(seen) != span {
		t.Errorf("expected all %d ids to be claimed exactly once, got %d", span, len(seen))
	}
}

func assertStringSlice(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
