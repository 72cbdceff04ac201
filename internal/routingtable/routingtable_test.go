package routingtable

import (
	"chorddht/internal/domain"
	"testing"
)

func testSpace(t *testing.T, bits, succListSize int) domain.Space {
	t.Helper()
	sp, err := domain.NewSpace(bits, succListSize)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return sp
}

func nodeAt(sp domain.Space, n int, addr string) *domain.Node {
	return &domain.Node{ID: sp.FromUint64(uint64(n)), Addr: addr}
}

func TestInitSingleNode(t *testing.T) {
	sp := testSpace(t, 8, 3)
	self := nodeAt(sp, 10, "10.0.0.1:9000")
	rt := New(self, sp, sp.SuccListSize)
	rt.InitSingleNode()

	if got := rt.FirstSuccessor(); got == nil || !got.ID.Equal(self.ID) {
		t.Fatalf("expected first successor to be self, got %v", got)
	}
	if got := rt.GetPredecessor(); got == nil || !got.ID.Equal(self.ID) {
		t.Fatalf("expected predecessor to be self, got %v", got)
	}
	for i := 0; i < rt.FingerTableSize(); i++ {
		if f := rt.GetFinger(i); f == nil || !f.ID.Equal(self.ID) {
			t.Fatalf("finger %d: expected self, got %v", i, f)
		}
	}
}

func TestSetSuccessorListAndSnapshot(t *testing.T) {
	sp := testSpace(t, 8, 3)
	self := nodeAt(sp, 1, "n1:9000")
	rt := New(self, sp, sp.SuccListSize)

	s1 := nodeAt(sp, 2, "n2:9000")
	s2 := nodeAt(sp, 3, "n3:9000")
	rt.SetSuccessorList([]*domain.Node{s1, s2, nil})

	if got := rt.GetSuccessor(0); !got.ID.Equal(s1.ID) {
		t.Fatalf("successor 0: expected %v, got %v", s1, got)
	}
	if got := rt.GetSuccessor(1); !got.ID.Equal(s2.ID) {
		t.Fatalf("successor 1: expected %v, got %v", s2, got)
	}

	snap := rt.SuccessorList()
	if len(snap) != 2 {
		t.Fatalf("expected 2 non-nil successors, got %d", len(snap))
	}
}

func TestSetSuccessorListRejectsWrongLength(t *testing.T) {
	sp := testSpace(t, 8, 3)
	self := nodeAt(sp, 1, "n1:9000")
	rt := New(self, sp, sp.SuccListSize)

	s1 := nodeAt(sp, 2, "n2:9000")
	rt.SetSuccessorList([]*domain.Node{s1})

	if got := rt.GetSuccessor(0); got != nil {
		t.Fatalf("expected list to be unchanged (nil), got %v", got)
	}
}

func TestPromoteCandidate(t *testing.T) {
	sp := testSpace(t, 8, 4)
	self := nodeAt(sp, 1, "n1:9000")
	rt := New(self, sp, sp.SuccListSize)

	s0 := nodeAt(sp, 2, "n2:9000")
	s1 := nodeAt(sp, 3, "n3:9000")
	s2 := nodeAt(sp, 4, "n4:9000")
	rt.SetSuccessorList([]*domain.Node{s0, s1, s2, nil})

	rt.PromoteCandidate(1)

	if got := rt.GetSuccessor(0); !got.ID.Equal(s1.ID) {
		t.Fatalf("expected promoted node at index 0, got %v", got)
	}
	if got := rt.GetSuccessor(1); !got.ID.Equal(s2.ID) {
		t.Fatalf("expected shifted node at index 1, got %v", got)
	}
	if got := rt.GetSuccessor(2); got != nil {
		t.Fatalf("expected nil at index 2, got %v", got)
	}
}

func TestPromoteCandidateInvalidIndexIsNoop(t *testing.T) {
	sp := testSpace(t, 8, 3)
	self := nodeAt(sp, 1, "n1:9000")
	rt := New(self, sp, sp.SuccListSize)

	s0 := nodeAt(sp, 2, "n2:9000")
	rt.SetSuccessorList([]*domain.Node{s0, nil, nil})

	rt.PromoteCandidate(0)
	rt.PromoteCandidate(99)

	if got := rt.GetSuccessor(0); !got.ID.Equal(s0.ID) {
		t.Fatalf("expected list unchanged, got %v", got)
	}
}

func TestFingerTableSize(t *testing.T) {
	sp := testSpace(t, 8, 3)
	self := nodeAt(sp, 1, "n1:9000")
	rt := New(self, sp, sp.SuccListSize)

	if got := rt.FingerTableSize(); got != 8 {
		t.Fatalf("expected 8 finger entries, got %d", got)
	}
}

func TestFingerStartMatchesSpace(t *testing.T) {
	sp := testSpace(t, 8, 3)
	self := nodeAt(sp, 1, "n1:9000")
	rt := New(self, sp, sp.SuccListSize)

	for i := 0; i < rt.FingerTableSize(); i++ {
		want := sp.FingerStart(self.ID, i)
		got := rt.FingerStart(i)
		if !got.Equal(want) {
			t.Fatalf("finger start %d: expected %v, got %v", i, want, got)
		}
	}
}

// TestClosestPrecedingNodePrefersFingers builds a ring of nodes 1, 4, 8 (mod
// 256) around self=1 and checks that ClosestPrecedingNode returns the finger
// closest to, but not past, the target identifier.
func TestClosestPrecedingNodePrefersFingers(t *testing.T) {
	sp := testSpace(t, 8, 3)
	self := nodeAt(sp, 1, "n1:9000")
	rt := New(self, sp, sp.SuccListSize)

	n4 := nodeAt(sp, 4, "n4:9000")
	n8 := nodeAt(sp, 8, "n8:9000")

	rt.UpdateFingerAt(0, n4) // routes towards 1+1=2
	rt.UpdateFingerAt(1, n4) // routes towards 1+2=3
	rt.UpdateFingerAt(2, n8) // routes towards 1+4=5
	for i := 3; i < rt.FingerTableSize(); i++ {
		rt.UpdateFingerAt(i, self)
	}

	target := sp.FromUint64(10)
	got := rt.ClosestPrecedingNode(target)
	if !got.ID.Equal(n8.ID) {
		t.Fatalf("expected closest preceding node to be n8, got %v", got)
	}
}

func TestClosestPrecedingNodeFallsBackToSuccessorList(t *testing.T) {
	sp := testSpace(t, 8, 3)
	self := nodeAt(sp, 1, "n1:9000")
	rt := New(self, sp, sp.SuccListSize)

	for i := 0; i < rt.FingerTableSize(); i++ {
		rt.UpdateFingerAt(i, self)
	}

	succ := nodeAt(sp, 5, "n5:9000")
	rt.SetSuccessorList([]*domain.Node{succ, nil, nil})

	target := sp.FromUint64(10)
	got := rt.ClosestPrecedingNode(target)
	if !got.ID.Equal(succ.ID) {
		t.Fatalf("expected fallback to successor list, got %v", got)
	}
}

func TestClosestPrecedingNodeDefaultsToSelf(t *testing.T) {
	sp := testSpace(t, 8, 3)
	self := nodeAt(sp, 1, "n1:9000")
	rt := New(self, sp, sp.SuccListSize)
	rt.InitSingleNode()

	target := sp.FromUint64(10)
	got := rt.ClosestPrecedingNode(target)
	if !got.ID.Equal(self.ID) {
		t.Fatalf("expected self as last resort, got %v", got)
	}
}

// TestClosestPrecedingCandidatesOrdersHighToLow mirrors
// TestClosestPrecedingNodePrefersFingers but checks the full ordered
// candidate list FindSuccessor's retry loop walks: n8 (the closest
// qualifying finger) first, then n4.
func TestClosestPrecedingCandidatesOrdersHighToLow(t *testing.T) {
	sp := testSpace(t, 8, 3)
	self := nodeAt(sp, 1, "n1:9000")
	rt := New(self, sp, sp.SuccListSize)

	n4 := nodeAt(sp, 4, "n4:9000")
	n8 := nodeAt(sp, 8, "n8:9000")

	rt.UpdateFingerAt(0, n4)
	rt.UpdateFingerAt(1, n4)
	rt.UpdateFingerAt(2, n8)
	for i := 3; i < rt.FingerTableSize(); i++ {
		rt.UpdateFingerAt(i, self)
	}

	target := sp.FromUint64(10)
	got := rt.ClosestPrecedingCandidates(target)
	if len(got) != 2 {
		t.Fatalf("expected 2 deduplicated candidates, got %d: %v", len(got), got)
	}
	if !got[0].ID.Equal(n8.ID) {
		t.Fatalf("expected n8 first, got %v", got[0])
	}
	if !got[1].ID.Equal(n4.ID) {
		t.Fatalf("expected n4 second, got %v", got[1])
	}
}

func TestClosestPrecedingCandidatesExcludesSelf(t *testing.T) {
	sp := testSpace(t, 8, 3)
	self := nodeAt(sp, 1, "n1:9000")
	rt := New(self, sp, sp.SuccListSize)
	rt.InitSingleNode()

	target := sp.FromUint64(10)
	got := rt.ClosestPrecedingCandidates(target)
	if len(got) != 0 {
		t.Fatalf("expected no candidates when only self qualifies, got %v", got)
	}
}

func TestEvictNodeClearsFingersAndSuccessors(t *testing.T) {
	sp := testSpace(t, 8, 3)
	self := nodeAt(sp, 1, "n1:9000")
	rt := New(self, sp, sp.SuccListSize)

	dead := nodeAt(sp, 4, "dead:9000")
	rt.SetSuccessorList([]*domain.Node{dead, nil, nil})
	for i := 0; i < rt.FingerTableSize(); i++ {
		rt.UpdateFingerAt(i, dead)
	}

	addrs := rt.EvictNode(dead.ID)

	wantSlots := 1 + rt.FingerTableSize()
	if len(addrs) != wantSlots {
		t.Fatalf("expected one evicted address per cleared slot (%d), got %d: %v", wantSlots, len(addrs), addrs)
	}
	for _, a := range addrs {
		if a != dead.Addr {
			t.Fatalf("expected every evicted address to be %q, got %q", dead.Addr, a)
		}
	}

	if got := rt.GetSuccessor(0); got != nil {
		t.Fatalf("expected successor slot cleared, got %v", got)
	}
	for i := 0; i < rt.FingerTableSize(); i++ {
		if got := rt.GetFinger(i); got != nil {
			t.Fatalf("finger %d: expected cleared, got %v", i, got)
		}
	}
}
