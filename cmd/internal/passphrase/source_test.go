package passphrase

import (
	"errors"
	"testing"
)

func TestSourceReadsEnvironmentOnce(t *testing.T) {
	calls := 0
	s := NewSource("ACCUM_PASS", "")
	s.lookup = func(name string) (string, bool) {
		calls++
		if name != "ACCUM_PASS" {
			t.Fatalf("unexpected variable %q", name)
		}
		return "hunter2", true
	}
	for i := 0; i < 2; i++ {
		got, err := s.Get()
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != "hunter2" {
			t.Fatalf("unexpected passphrase %q", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single lookup, got %d", calls)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	s := NewSource("ACCUM_PASS", "dev")
	s.lookup = func(string) (string, bool) { return "   ", true }
	if _, err := s.Get(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}
