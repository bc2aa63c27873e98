package flagconfig

import (
	"testing"

	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

func TestStoragePutGetAll(t *testing.T) {
	s := NewStorage()
	s.Put(rules.Flag{Key: "a"})
	s.Put(rules.Flag{Key: "b"})

	if _, ok := s.Get("a"); !ok {
		t.Fatalf("expected flag a to be stored")
	}
	if len(s.All()) != 2 {
		t.Fatalf("expected 2 flags, got %d", len(s.All()))
	}
}

func TestStorageRemoveIf(t *testing.T) {
	s := NewStorage()
	s.Put(rules.Flag{Key: "keep"})
	s.Put(rules.Flag{Key: "drop"})

	s.RemoveIf(func(f rules.Flag) bool { return f.Key == "drop" })

	if _, ok := s.Get("drop"); ok {
		t.Errorf("expected drop to be removed")
	}
	if _, ok := s.Get("keep"); !ok {
		t.Errorf("expected keep to remain")
	}
}
