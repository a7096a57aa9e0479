// Package merkle recomputes transaction merkle roots for block verification.
package merkle

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
)

// ComputeRoot builds the merkle root bottom-up by double-SHA256 hashing sibling
// pairs. A level of odd cardinality duplicates its last digest; that quirk is
// part of the format and changes the resulting root.
func ComputeRoot(txids []chainhash.Hash) chainhash.Hash {
	if len(txids) == 0 {
		return chainhash.Hash{}
	}

	level := make([]chainhash.Hash, len(txids))
	copy(level, txids)

	var pair [chainhash.HashSize * 2]byte
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			copy(pair[:chainhash.HashSize], level[i][:])
			copy(pair[chainhash.HashSize:], level[i+1][:])
			next = append(next, chainhash.DoubleHashH(pair[:]))
		}
		level = next
	}
	return level[0]
}

// Verify recomputes the merkle root of the block's transactions and compares
// it to the header's declared root.
func Verify(b *model.Block) bool {
	txids := make([]chainhash.Hash, len(b.Txs))
	for i, tx := range b.Txs {
		txids[i] = tx.TxID
	}
	return ComputeRoot(txids) == b.Header.MerkleRoot
}
