package storage

import (
	"strings"
	"testing"

	"github.com/bf2statistics/battlespy/internal/registry"
)

// The database must satisfy the registry's store contract.
var _ registry.Store = (*Database)(nil)

func TestTruncateName(t *testing.T) {
	short := "Flyin' High 24/7"
	if got := TruncateName(short); got != short {
		t.Errorf("TruncateName(%q) = %q, want unchanged", short, got)
	}

	long := strings.Repeat("x", registry.MaxServerNameLen+50)
	got := TruncateName(long)
	if len(got) != registry.MaxServerNameLen {
		t.Errorf("len = %d, want %d", len(got), registry.MaxServerNameLen)
	}
	if !strings.HasPrefix(long, got) {
		t.Error("truncation did not keep the prefix")
	}
}
