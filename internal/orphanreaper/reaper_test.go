package orphanreaper

import (
	"os"
	"testing"

	"go.uber.org/zap"
)

func TestReadRealUID_CurrentProcess(t *testing.T) {
	uid, err := readRealUID(os.Getpid())
	if err != nil {
		t.Fatalf("readRealUID: %v", err)
	}
	if uid != os.Getuid() {
		t.Errorf("expected uid %d, got %d", os.Getuid(), uid)
	}
}

func TestSweep_SkipsResolvableUIDs(t *testing.T) {
	r := New(zap.NewNop(), 0, func(uid int) bool { return true })
	// With every uid reported as resolvable, sweep must not attempt to
	// kill anything; a bug here would SIGKILL the test process itself.
	r.sweep()
}
