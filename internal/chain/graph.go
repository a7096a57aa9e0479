// Package chain resolves the canonical block chain from scanned headers and
// persists it for resumable runs.
package chain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
)

// ErrCorruptChain reports a cycle or broken contiguity in the header graph.
var ErrCorruptChain = errors.New("corrupt header chain")

// Node is one scanned header in the graph. Parent links are lookups by hash
// into the graph arena, never owning pointers.
type Node struct {
	Hash   chainhash.Hash
	Prev   chainhash.Hash
	Height uint64
	Loc    model.BlockLocation

	seq      int
	resolved bool
}

// Graph is an arena of header nodes keyed by hash, with a children index for
// forward height propagation from the anchors.
type Graph struct {
	nodes    map[chainhash.Hash]*Node
	children map[chainhash.Hash][]*Node

	// anchors maps a known parent hash to the height its children receive.
	// The zero hash is always present, so the genesis block gets height 0.
	anchors map[chainhash.Hash]uint64

	seq int
}

// NewGraph creates a graph anchored at the genesis predecessor (the zero hash).
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[chainhash.Hash]*Node),
		children: make(map[chainhash.Hash][]*Node),
		anchors:  map[chainhash.Hash]uint64{{}: 0},
	}
}

// Seed registers a confirmed (hash, height) block as a scan anchor. Seeding
// every stored entry lets a rescanned branch resolve from any point of known
// history, so a fork below the tip is still recognized at its real height.
func (g *Graph) Seed(hash chainhash.Hash, height uint64) {
	g.anchors[hash] = height + 1
}

// Insert records a scanned header. Records with an already-known hash are
// ignored, except that a conflicting previous-hash still registers the extra
// edge so corrupt linkage is caught during traversal instead of hiding.
func (g *Graph) Insert(hash, prev chainhash.Hash, loc model.BlockLocation) {
	if existing, ok := g.nodes[hash]; ok {
		if existing.Prev != prev {
			g.children[prev] = append(g.children[prev], existing)
		}
		return
	}
	n := &Node{Hash: hash, Prev: prev, Loc: loc, seq: g.seq}
	g.seq++
	g.nodes[hash] = n
	g.children[prev] = append(g.children[prev], n)
}

// Len returns the number of distinct headers observed.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Canonical resolves heights from the anchors forward and returns the single
// canonical chain in ascending height order. The tip is the node of maximum
// height; equal-height tips are broken by earliest discovery in scan order.
// Nodes whose parent is neither observed nor anchored stay unresolved and are
// excluded as orphans. A revisited node means a cycle in the linkage and fails
// rather than looping.
func (g *Graph) Canonical() ([]*Node, error) {
	var queue []*Node
	for prev, height := range g.anchors {
		if _, scanned := g.nodes[prev]; scanned {
			// Resolved through its own parent during traversal.
			continue
		}
		for _, n := range g.children[prev] {
			n.Height = height
			queue = append(queue, n)
		}
	}

	visited := make(map[chainhash.Hash]bool, len(g.nodes))
	var best *Node
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if visited[n.Hash] {
			return nil, fmt.Errorf("cycle through block %s: %w", n.Hash, ErrCorruptChain)
		}
		visited[n.Hash] = true
		n.resolved = true

		if best == nil || n.Height > best.Height || (n.Height == best.Height && n.seq < best.seq) {
			best = n
		}
		for _, c := range g.children[n.Hash] {
			c.Height = n.Height + 1
			queue = append(queue, c)
		}
	}

	if best == nil {
		return nil, nil
	}

	// Walk back from the tip and re-validate contiguity.
	rev := make([]*Node, 0, len(g.nodes))
	walked := make(map[chainhash.Hash]bool, len(g.nodes))
	n := best
	for {
		if !n.resolved {
			return nil, fmt.Errorf("canonical path broken below height %d: %w", best.Height, ErrCorruptChain)
		}
		if walked[n.Hash] {
			return nil, fmt.Errorf("cycle through block %s: %w", n.Hash, ErrCorruptChain)
		}
		walked[n.Hash] = true
		rev = append(rev, n)
		parent, ok := g.nodes[n.Prev]
		if !ok {
			break
		}
		n = parent
	}

	root := rev[len(rev)-1]
	if base, ok := g.anchors[root.Prev]; !ok || base != root.Height {
		return nil, fmt.Errorf("canonical path does not reach an anchor: %w", ErrCorruptChain)
	}
	if uint64(len(rev)) != best.Height-root.Height+1 {
		return nil, fmt.Errorf("tip height %d over %d walked headers: %w", best.Height, len(rev), ErrCorruptChain)
	}

	out := make([]*Node, len(rev))
	for i, n := range rev {
		out[len(rev)-1-i] = n
	}
	return out, nil
}
