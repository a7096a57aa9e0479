// Package model defines domain types for archive parsing.
package model

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// BlockHeaderLen is the serialized length of a block header in bytes.
const BlockHeaderLen = 80

// BlockHeader holds the fixed-width header fields of a block record.
type BlockHeader struct {
	Version    uint32
	PrevBlock  chainhash.Hash
	MerkleRoot chainhash.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// Block is a fully decoded block. Hash and Height are derived: Hash from the
// 80 header bytes, Height from canonical chain resolution. A header-only scan
// produces blocks with an empty Txs slice.
type Block struct {
	Hash   chainhash.Hash
	Header BlockHeader
	Height uint64
	Size   uint32
	Txs    []Transaction
}

// Transaction is a decoded transaction. Scripts are carried opaque and never
// interpreted.
type Transaction struct {
	TxID     chainhash.Hash
	Version  uint32
	LockTime uint32
	Size     uint32
	Inputs   []TxInput
	Outputs  []TxOutput
}

// TxInput references a previous output and carries its signature script.
type TxInput struct {
	PrevTxID  chainhash.Hash
	PrevIndex uint32
	ScriptSig []byte
	Sequence  uint32
}

// TxOutput carries a value in satoshis and its locking script.
type TxOutput struct {
	Value        uint64
	ScriptPubKey []byte
}
