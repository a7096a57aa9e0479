// Package blockgen builds serialized block records for tests.
package blockgen

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/merkle"
	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
)

// AppendCompactSize appends the canonical compact-size encoding of v.
func AppendCompactSize(dst []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(dst, byte(v))
	case v <= 0xffff:
		dst = append(dst, 0xfd)
		return binary.LittleEndian.AppendUint16(dst, uint16(v))
	case v <= 0xffffffff:
		dst = append(dst, 0xfe)
		return binary.LittleEndian.AppendUint32(dst, uint32(v))
	default:
		dst = append(dst, 0xff)
		return binary.LittleEndian.AppendUint64(dst, v)
	}
}

// Tx serializes a minimal one-input one-output transaction. The seed varies
// the outpoint and value so distinct seeds produce distinct txids.
func Tx(seed byte) []byte {
	var out []byte
	out = binary.LittleEndian.AppendUint32(out, 1) // version

	out = AppendCompactSize(out, 1)
	prev := chainhash.Hash{}
	prev[0] = seed
	out = append(out, prev[:]...)
	out = binary.LittleEndian.AppendUint32(out, 0)    // outpoint index
	out = AppendCompactSize(out, 2)                   // script length
	out = append(out, 0x51, seed)                     // script
	out = binary.LittleEndian.AppendUint32(out, 0xffffffff)

	out = AppendCompactSize(out, 1)
	out = binary.LittleEndian.AppendUint64(out, 5000000000+uint64(seed)) // value
	out = AppendCompactSize(out, 3)
	out = append(out, 0x76, 0xa9, seed)

	out = binary.LittleEndian.AppendUint32(out, 0) // locktime
	return out
}

// TxID is the double-SHA256 of the serialized transaction.
func TxID(tx []byte) chainhash.Hash {
	return chainhash.DoubleHashH(tx)
}

// Block serializes a block payload: an 80-byte header carrying the real
// merkle root of txs, then the count-prefixed transaction list.
func Block(prev chainhash.Hash, timestamp uint32, txs ...[]byte) []byte {
	txids := make([]chainhash.Hash, len(txs))
	for i, tx := range txs {
		txids[i] = TxID(tx)
	}
	root := merkle.ComputeRoot(txids)

	out := make([]byte, 0, model.BlockHeaderLen)
	out = binary.LittleEndian.AppendUint32(out, 1) // version
	out = append(out, prev[:]...)
	out = append(out, root[:]...)
	out = binary.LittleEndian.AppendUint32(out, timestamp)
	out = binary.LittleEndian.AppendUint32(out, 0x1d00ffff) // bits
	out = binary.LittleEndian.AppendUint32(out, 42)         // nonce

	out = AppendCompactSize(out, uint64(len(txs)))
	for _, tx := range txs {
		out = append(out, tx...)
	}
	return out
}

// Hash is the block hash of a serialized payload.
func Hash(payload []byte) chainhash.Hash {
	return chainhash.DoubleHashH(payload[:model.BlockHeaderLen])
}

// Record frames a payload with the magic marker and the little-endian length.
func Record(magic uint32, payload []byte) []byte {
	out := make([]byte, 0, 8+len(payload))
	out = binary.LittleEndian.AppendUint32(out, magic)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	return append(out, payload...)
}

// Chain builds n linked block payloads starting from the zero hash, each with
// a single distinct transaction.
func Chain(n int) [][]byte {
	payloads := make([][]byte, n)
	var prev chainhash.Hash
	for i := 0; i < n; i++ {
		payload := Block(prev, uint32(1231006505+i*600), Tx(byte(i+1)))
		payloads[i] = payload
		prev = Hash(payload)
	}
	return payloads
}

// WriteBlkFile writes framed records into dir as blkNNNNN.dat and returns the
// file path.
func WriteBlkFile(t *testing.T, dir string, index int, magic uint32, payloads ...[]byte) string {
	t.Helper()

	var raw []byte
	for _, payload := range payloads {
		raw = append(raw, Record(magic, payload)...)
	}
	path := filepath.Join(dir, fmt.Sprintf("blk%05d.dat", index))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
