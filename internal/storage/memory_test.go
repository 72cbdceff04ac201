package storage

import (
	"errors"
	"testing"

	"chorddht/internal/domain"
	"chorddht/internal/logger"
)

func testSpace(t *testing.T) domain.Space {
	t.Helper()
	sp, err := domain.NewSpace(8, 3)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return sp
}

func resourceAt(sp domain.Space, n int, value string) domain.Resource {
	return domain.Resource{Key: sp.FromUint64(uint64(n)), RawKey: value, Value: value}
}

func TestPutGetDelete(t *testing.T) {
	sp := testSpace(t)
	s := NewMemoryStorage(&logger.NopLogger{})

	r := resourceAt(sp, 10, "a")
	s.Put(r)

	got, err := s.Get(r.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Value != "a" {
		t.Fatalf("expected value %q, got %q", "a", got.Value)
	}

	if err := s.Delete(r.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(r.Key); !errors.Is(err, domain.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound after delete, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	sp := testSpace(t)
	s := NewMemoryStorage(&logger.NopLogger{})
	if _, err := s.Get(sp.FromUint64(1)); !errors.Is(err, domain.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
}

func TestDeleteMissing(t *testing.T) {
	sp := testSpace(t)
	s := NewMemoryStorage(&logger.NopLogger{})
	if err := s.Delete(sp.FromUint64(1)); !errors.Is(err, domain.ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
}

func TestBetweenWrapAround(t *testing.T) {
	sp := testSpace(t)
	s := NewMemoryStorage(&logger.NopLogger{})

	s.Put(resourceAt(sp, 5, "low"))
	s.Put(resourceAt(sp, 250, "high"))
	s.Put(resourceAt(sp, 100, "mid"))

	// (240, 10] wraps around 0 and should pick up 250 and 5, not 100.
	got, err := s.Between(sp.FromUint64(240), sp.FromUint64(10))
	if err != nil {
		t.Fatalf("Between: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 resources in wrap-around range, got %d", len(got))
	}
	seen := map[string]bool{}
	for _, r := range got {
		seen[r.Value] = true
	}
	if !seen["low"] || !seen["high"] {
		t.Fatalf("expected low and high in range, got %v", got)
	}
}

func TestAll(t *testing.T) {
	sp := testSpace(t)
	s := NewMemoryStorage(&logger.NopLogger{})

	s.Put(resourceAt(sp, 1, "a"))
	s.Put(resourceAt(sp, 2, "b"))

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(all))
	}
}
