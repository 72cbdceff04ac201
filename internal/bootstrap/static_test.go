package bootstrap

import (
	"context"
	"testing"

	"chorddht/internal/domain"
)

func TestStaticBootstrapDiscover(t *testing.T) {
	peers := []string{"10.0.0.1:4000", "10.0.0.2:4000"}
	b := NewStaticBootstrap(peers)

	got, err := b.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != len(peers) {
		t.Fatalf("expected %d peers, got %d", len(peers), len(got))
	}
	for i, p := range peers {
		if got[i] != p {
			t.Fatalf("peer %d: expected %q, got %q", i, p, got[i])
		}
	}
}

func TestStaticBootstrapRegisterDeregisterNoop(t *testing.T) {
	b := NewStaticBootstrap(nil)
	n := &domain.Node{Addr: "10.0.0.1:4000"}
	if err := b.Register(context.Background(), n); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := b.Deregister(context.Background(), n); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
}
