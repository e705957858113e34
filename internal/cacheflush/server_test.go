package cacheflush

import (
	"testing"

	"go.uber.org/zap"
)

func TestRun_ReportsExitCode(t *testing.T) {
	log := zap.NewNop()

	if _, err := run(log, "true"); err != nil {
		t.Errorf("expected /bin/true to succeed, got %v", err)
	}

	code, err := run(log, "false")
	if err == nil {
		t.Fatal("expected /bin/false to report an error")
	}
	if code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}
