package core

import "testing"

func TestKademliaStoreLookup(t *testing.T) {
	k := NewKademlia("self")
	k.Store("some-content-hash", []byte("provider-addr"))
	val, ok := k.Lookup("some-content-hash")
	if !ok || string(val) != "provider-addr" {
		t.Fatalf("expected stored value back, got %q ok=%v", val, ok)
	}
	if _, ok := k.Lookup("never-stored"); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestKademliaLookupReturnsCopy(t *testing.T) {
	k := NewKademlia("self")
	k.Store("key", []byte("value"))
	val, _ := k.Lookup("key")
	val[0] = 'X'
	again, _ := k.Lookup("key")
	if string(again) != "value" {
		t.Fatalf("expected stored value untouched by caller mutation, got %q", again)
	}
}

func TestKademliaAddPeerIgnoresSelfAndDuplicates(t *testing.T) {
	k := NewKademlia("self")
	k.AddPeer("self")
	k.AddPeer("other")
	k.AddPeer("other")

	var count int
	for _, bucket := range k.buckets {
		count += len(bucket)
	}
	if count != 1 {
		t.Fatalf("expected exactly one tracked peer, got %d", count)
	}
}

func TestKademliaNearestReturnsKnownPeers(t *testing.T) {
	k := NewKademlia("self")
	ids := []NodeID{"alpha", "beta", "gamma", "delta"}
	for _, id := range ids {
		k.AddPeer(id)
	}
	nearest := k.Nearest("alpha", 2)
	if len(nearest) == 0 || len(nearest) > 2 {
		t.Fatalf("expected between 1 and 2 nearest peers, got %d", len(nearest))
	}
	seen := map[NodeID]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range nearest {
		if !seen[id] {
			t.Fatalf("Nearest returned an unknown peer %q", id)
		}
	}
}
