// Package codec decodes binary block records. It is purely functional over
// byte slices and performs no I/O.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
	"github.com/goodnatureofminers/blockparser7000-backend/pkg/safe"
)

// ErrMalformedRecord reports a structural violation in a block record:
// truncated fixed fields, or a count/length prefix exceeding the remaining
// bytes. File contents are never trusted.
var ErrMalformedRecord = errors.New("malformed block record")

// Serialized minimums, used to reject count prefixes that cannot possibly fit
// the remaining bytes before allocating for them.
const (
	minTxInputLen  = 32 + 4 + 1 + 4 // outpoint, script length, sequence
	minTxOutputLen = 8 + 1          // value, script length
	minTxLen       = 4 + 1 + minTxInputLen + 1 + minTxOutputLen + 4
)

// reader is a bounds-checked cursor over one record payload.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) bytes(n int, what string) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("%s: need %d bytes at offset %d, have %d: %w", what, n, r.off, r.remaining(), ErrMalformedRecord)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u32(what string) (uint32, error) {
	b, err := r.bytes(4, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64(what string) (uint64, error) {
	b, err := r.bytes(8, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) hash(what string) (chainhash.Hash, error) {
	var h chainhash.Hash
	b, err := r.bytes(chainhash.HashSize, what)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// count reads a compact-size list count and rejects values that cannot fit the
// remaining bytes at minItemLen apiece.
func (r *reader) count(minItemLen int, what string) (int, error) {
	v, n, err := DecodeCompactSize(r.buf[r.off:])
	if err != nil {
		return 0, fmt.Errorf("%s at offset %d: %w", what, r.off, err)
	}
	r.off += n
	c, err := safe.Int(v)
	if err != nil || c > r.remaining()/minItemLen {
		return 0, fmt.Errorf("%s %d exceeds remaining %d bytes: %w", what, v, r.remaining(), ErrMalformedRecord)
	}
	return c, nil
}

func (r *reader) script(what string) ([]byte, error) {
	v, n, err := DecodeCompactSize(r.buf[r.off:])
	if err != nil {
		return nil, fmt.Errorf("%s length at offset %d: %w", what, r.off, err)
	}
	r.off += n
	length, err := safe.Int(v)
	if err != nil {
		return nil, fmt.Errorf("%s length %d: %w", what, v, ErrMalformedRecord)
	}
	b, err := r.bytes(length, what)
	if err != nil {
		return nil, err
	}
	// Copied so decoded blocks do not alias the input buffer.
	out := make([]byte, length)
	copy(out, b)
	return out, nil
}

// DecodeHeader decodes the 80 fixed-width header bytes.
func DecodeHeader(b []byte) (model.BlockHeader, error) {
	var h model.BlockHeader
	if len(b) < model.BlockHeaderLen {
		return h, fmt.Errorf("header: need %d bytes, have %d: %w", model.BlockHeaderLen, len(b), ErrMalformedRecord)
	}
	h.Version = binary.LittleEndian.Uint32(b[0:4])
	copy(h.PrevBlock[:], b[4:36])
	copy(h.MerkleRoot[:], b[36:68])
	h.Timestamp = binary.LittleEndian.Uint32(b[68:72])
	h.Bits = binary.LittleEndian.Uint32(b[72:76])
	h.Nonce = binary.LittleEndian.Uint32(b[76:80])
	return h, nil
}

// HeaderHash returns the block hash derived from the 80 header bytes.
func HeaderHash(b []byte) (chainhash.Hash, error) {
	if len(b) < model.BlockHeaderLen {
		return chainhash.Hash{}, fmt.Errorf("header hash: need %d bytes, have %d: %w", model.BlockHeaderLen, len(b), ErrMalformedRecord)
	}
	return chainhash.DoubleHashH(b[:model.BlockHeaderLen]), nil
}

// DecodeTransaction decodes one transaction and returns it together with the
// number of bytes consumed. The TxID is the double-SHA256 of those bytes.
func DecodeTransaction(b []byte) (model.Transaction, int, error) {
	var tx model.Transaction
	r := &reader{buf: b}

	version, err := r.u32("tx version")
	if err != nil {
		return tx, 0, err
	}

	inCount, err := r.count(minTxInputLen, "tx input count")
	if err != nil {
		return tx, 0, err
	}
	inputs := make([]model.TxInput, 0, inCount)
	for i := 0; i < inCount; i++ {
		prev, err := r.hash("input outpoint txid")
		if err != nil {
			return tx, 0, err
		}
		prevIndex, err := r.u32("input outpoint index")
		if err != nil {
			return tx, 0, err
		}
		scriptSig, err := r.script("input script")
		if err != nil {
			return tx, 0, err
		}
		sequence, err := r.u32("input sequence")
		if err != nil {
			return tx, 0, err
		}
		inputs = append(inputs, model.TxInput{
			PrevTxID:  prev,
			PrevIndex: prevIndex,
			ScriptSig: scriptSig,
			Sequence:  sequence,
		})
	}

	outCount, err := r.count(minTxOutputLen, "tx output count")
	if err != nil {
		return tx, 0, err
	}
	outputs := make([]model.TxOutput, 0, outCount)
	for i := 0; i < outCount; i++ {
		value, err := r.u64("output value")
		if err != nil {
			return tx, 0, err
		}
		scriptPubKey, err := r.script("output script")
		if err != nil {
			return tx, 0, err
		}
		outputs = append(outputs, model.TxOutput{
			Value:        value,
			ScriptPubKey: scriptPubKey,
		})
	}

	lockTime, err := r.u32("tx locktime")
	if err != nil {
		return tx, 0, err
	}

	size, err := safe.Uint32(r.off)
	if err != nil {
		return tx, 0, fmt.Errorf("tx size: %w", err)
	}

	tx = model.Transaction{
		TxID:     chainhash.DoubleHashH(b[:r.off]),
		Version:  version,
		LockTime: lockTime,
		Size:     size,
		Inputs:   inputs,
		Outputs:  outputs,
	}
	return tx, r.off, nil
}

// DecodeBlock decodes one full block payload (header plus count-prefixed
// transaction list) and returns the bytes consumed so callers can advance past
// the record.
func DecodeBlock(b []byte) (*model.Block, int, error) {
	header, err := DecodeHeader(b)
	if err != nil {
		return nil, 0, err
	}
	hash := chainhash.DoubleHashH(b[:model.BlockHeaderLen])

	r := &reader{buf: b, off: model.BlockHeaderLen}
	txCount, err := r.count(minTxLen, "tx count")
	if err != nil {
		return nil, 0, err
	}

	txs := make([]model.Transaction, 0, txCount)
	for i := 0; i < txCount; i++ {
		tx, n, err := DecodeTransaction(b[r.off:])
		if err != nil {
			return nil, 0, fmt.Errorf("tx %d: %w", i, err)
		}
		r.off += n
		txs = append(txs, tx)
	}

	size, err := safe.Uint32(r.off)
	if err != nil {
		return nil, 0, fmt.Errorf("block size: %w", err)
	}

	return &model.Block{
		Hash:   hash,
		Header: header,
		Size:   size,
		Txs:    txs,
	}, r.off, nil
}
