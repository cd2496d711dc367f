package infra

import (
	"errors"
	"testing"

	"nightmate-runtime/middleware/ratelimit/domain"
)

func TestWindowStore_NeverExceedsCeiling(t *testing.T) {
	s := NewWindowStore()

	for i := 1; i <= 3; i++ {
		n, ok := s.Increment("/api/x", 10, 3)
		if !ok || n != i {
			t.Fatalf("expected call %d allowed with count %d, got ok=%v n=%d", i, i, ok, n)
		}
	}
	n, ok := s.Increment("/api/x", 10, 3)
	if ok {
		t.Fatalf("expected call above ceiling rejected")
	}
	if n != 3 || s.Count("/api/x", 10) != 3 {
		t.Fatalf("expected counter to stay at ceiling, got %d", s.Count("/api/x", 10))
	}
}

func TestWindowStore_KeysAreIndependent(t *testing.T) {
	s := NewWindowStore()

	if _, ok := s.Increment("/api/a", 1, 1); !ok {
		t.Fatalf("expected /api/a allowed")
	}
	if _, ok := s.Increment("/api/b", 1, 1); !ok {
		t.Fatalf("expected /api/b allowed (own window)")
	}
	if _, ok := s.Increment("/api/a", 2, 1); !ok {
		t.Fatalf("expected /api/a allowed in next bucket")
	}
}

func TestWindowStore_PruneDropsBucketsOlderThanTwo(t *testing.T) {
	s := NewWindowStore()
	for _, b := range []domain.Bucket{7, 8, 9, 10} {
		s.Increment("k", b, 5)
	}

	removed := s.Prune(10)
	if removed != 1 {
		t.Fatalf("expected 1 pruned bucket, got %d", removed)
	}
	if s.Count("k", 7) != 0 {
		t.Fatalf("expected bucket 7 discarded")
	}
	if s.Count("k", 8) != 1 {
		t.Fatalf("expected bucket 8 kept")
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 entries left, got %d", s.Len())
	}
}

func TestInFlight_RejectsWhenFullAndReleases(t *testing.T) {
	p := NewInFlight(2)

	r1, err := p.Acquire("a")
	if err != nil {
		t.Fatalf("expected a acquired, got %v", err)
	}
	if _, err := p.Acquire("b"); err != nil {
		t.Fatalf("expected b acquired, got %v", err)
	}
	if _, err := p.Acquire("c"); !errors.Is(err, domain.ErrTooManyConcurrent) {
		t.Fatalf("expected ErrTooManyConcurrent, got %v", err)
	}

	r1()
	r1()
	if p.Len() != 1 {
		t.Fatalf("expected double release to be ignored, len=%d", p.Len())
	}
	if _, err := p.Acquire("c"); err != nil {
		t.Fatalf("expected capacity released, got %v", err)
	}
}

func TestInFlight_IdentifierAppearsOnce(t *testing.T) {
	p := NewInFlight(5)

	if _, err := p.Acquire("GET_/api/feed"); err != nil {
		t.Fatalf("expected first acquire ok, got %v", err)
	}
	if _, err := p.Acquire("GET_/api/feed"); !errors.Is(err, domain.ErrDuplicateInFlight) {
		t.Fatalf("expected ErrDuplicateInFlight, got %v", err)
	}
	if p.Len() != 1 {
		t.Fatalf("expected one entry, got %d", p.Len())
	}
}

func TestWindowStore_RefundNeverGoesNegative(t *testing.T) {
	s := NewWindowStore()
	s.Increment("/api/x", 7, 3)
	s.Increment("/api/x", 7, 3)

	s.Refund("/api/x", 7)
	if n := s.Count("/api/x", 7); n != 1 {
		t.Fatalf("expected count 1 after refund, got %d", n)
	}
	s.Refund("/api/x", 7)
	s.Refund("/api/x", 7)
	if n := s.Count("/api/x", 7); n != 0 || s.Len() != 0 {
		t.Fatalf("expected empty window, got count %d len %d", n, s.Len())
	}
}
