package chain

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
)

func h(seed byte) chainhash.Hash {
	var out chainhash.Hash
	out[0] = seed
	return out
}

func loc(i int) model.BlockLocation {
	return model.BlockLocation{BlkIndex: 0, Offset: int64(i * 100), Length: 90}
}

func assertHeights(t *testing.T, nodes []*Node, hashes ...chainhash.Hash) {
	t.Helper()
	if len(nodes) != len(hashes) {
		t.Fatalf("got %d canonical nodes, want %d", len(nodes), len(hashes))
	}
	for i, want := range hashes {
		if nodes[i].Hash != want {
			t.Errorf("node %d = %s, want %s", i, nodes[i].Hash, want)
		}
	}
}

func TestGraphCanonical_linearChain(t *testing.T) {
	g := NewGraph()
	// Insertion order deliberately scrambled.
	g.Insert(h(3), h(2), loc(2))
	g.Insert(h(1), chainhash.Hash{}, loc(0))
	g.Insert(h(2), h(1), loc(1))

	nodes, err := g.Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	assertHeights(t, nodes, h(1), h(2), h(3))
	for i, n := range nodes {
		if n.Height != uint64(i) {
			t.Errorf("node %d has height %d", i, n.Height)
		}
	}
}

func TestGraphCanonical_longerForkWins(t *testing.T) {
	g := NewGraph()
	g.Insert(h(1), chainhash.Hash{}, loc(0))
	g.Insert(h(10), h(1), loc(1)) // short branch, discovered first
	g.Insert(h(2), h(1), loc(2))
	g.Insert(h(3), h(2), loc(3))

	nodes, err := g.Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	assertHeights(t, nodes, h(1), h(2), h(3))
}

func TestGraphCanonical_equalForkTieBreaksOnDiscoveryOrder(t *testing.T) {
	g := NewGraph()
	g.Insert(h(1), chainhash.Hash{}, loc(0))
	g.Insert(h(2), h(1), loc(1))
	g.Insert(h(20), h(1), loc(2)) // same height as h(2), discovered later

	nodes, err := g.Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	assertHeights(t, nodes, h(1), h(2))
}

func TestGraphCanonical_orphansExcluded(t *testing.T) {
	g := NewGraph()
	g.Insert(h(1), chainhash.Hash{}, loc(0))
	g.Insert(h(2), h(1), loc(1))
	g.Insert(h(9), h(8), loc(2)) // parent never observed

	nodes, err := g.Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	assertHeights(t, nodes, h(1), h(2))
	if g.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", g.Len())
	}
}

func TestGraphCanonical_empty(t *testing.T) {
	nodes, err := NewGraph().Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	if nodes != nil {
		t.Fatalf("Canonical() = %v, want nil", nodes)
	}
}

func TestGraphCanonical_seeded(t *testing.T) {
	g := NewGraph()
	g.Seed(h(5), 41)
	g.Insert(h(6), h(5), loc(0))
	g.Insert(h(7), h(6), loc(1))
	g.Insert(h(1), chainhash.Hash{}, loc(2)) // below the seed, not canonical

	nodes, err := g.Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	assertHeights(t, nodes, h(6), h(7))
	if nodes[0].Height != 42 || nodes[1].Height != 43 {
		t.Fatalf("heights = %d, %d, want 42, 43", nodes[0].Height, nodes[1].Height)
	}
}

func TestGraphCanonical_forkBelowSeededTip(t *testing.T) {
	g := NewGraph()
	// Every confirmed entry is an anchor, as a resumed scan seeds it.
	g.Seed(h(1), 0)
	g.Seed(h(2), 1)
	g.Seed(h(3), 2)

	// A longer branch links to the confirmed block at height 1.
	g.Insert(h(20), h(2), loc(0))
	g.Insert(h(21), h(20), loc(1))
	g.Insert(h(22), h(21), loc(2))

	nodes, err := g.Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	assertHeights(t, nodes, h(20), h(21), h(22))
	if nodes[0].Height != 2 || nodes[2].Height != 4 {
		t.Fatalf("heights = %d..%d, want 2..4", nodes[0].Height, nodes[2].Height)
	}
}

func TestGraphInsert_duplicateIgnored(t *testing.T) {
	g := NewGraph()
	g.Insert(h(1), chainhash.Hash{}, loc(0))
	g.Insert(h(1), chainhash.Hash{}, loc(7))

	if g.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", g.Len())
	}
	nodes, err := g.Canonical()
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	if nodes[0].Loc != loc(0) {
		t.Fatalf("Loc = %+v, want the first observed location", nodes[0].Loc)
	}
}

func TestGraphCanonical_cycleDetected(t *testing.T) {
	g := NewGraph()
	g.Insert(h(1), chainhash.Hash{}, loc(0))
	g.Insert(h(2), h(1), loc(1))
	// The same hash re-observed with a conflicting parent creates a back edge.
	g.Insert(h(1), h(2), loc(2))

	if _, err := g.Canonical(); !errors.Is(err, ErrCorruptChain) {
		t.Fatalf("Canonical() error = %v, want ErrCorruptChain", err)
	}
}
