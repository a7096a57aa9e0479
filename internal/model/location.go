package model

// BlockLocation locates one block payload inside an archive file. It is a
// lightweight locator, not ownership of the bytes.
type BlockLocation struct {
	BlkIndex int    `json:"blk_index"`
	Offset   int64  `json:"offset"`
	Length   uint32 `json:"length"`
}

// ParseMode selects how much of each block record is decoded during a run.
type ParseMode int

const (
	// HeaderOnly decodes 80-byte headers to (re)establish the canonical chain.
	HeaderOnly ParseMode = iota
	// FullData decodes complete blocks and delivers them to the callback.
	FullData
)

func (m ParseMode) String() string {
	switch m {
	case HeaderOnly:
		return "header-only"
	case FullData:
		return "full-data"
	default:
		return "unknown"
	}
}
