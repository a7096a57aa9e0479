package chain

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/blkfile"
	"github.com/goodnatureofminers/blockparser7000-backend/internal/codec"
	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
	"github.com/goodnatureofminers/blockparser7000-backend/pkg/workerpool"
)

// Seed is a confirmed (hash, height) block anchoring a scan. Resumed runs
// seed every stored entry, so a rescanned branch resolves against any point
// of known history instead of only the tip.
type Seed struct {
	Hash   chainhash.Hash
	Height uint64
}

type headerRecord struct {
	hash chainhash.Hash
	prev chainhash.Hash
	loc  model.BlockLocation
}

type scanItem struct {
	pos  int
	file blkfile.BlkFile
}

// Scanner performs the header-only pass over archive files and resolves the
// canonical chain.
type Scanner struct {
	magic   uint32
	workers int
	logger  *zap.Logger
}

// NewScanner creates a Scanner reading records framed by magic.
func NewScanner(magic uint32, workers int, logger *zap.Logger) *Scanner {
	if workers < 1 {
		workers = 1
	}
	return &Scanner{magic: magic, workers: workers, logger: logger}
}

// Scan decodes only headers across all files and returns the canonical chain
// in ascending height order. Files are scanned concurrently; per-file results
// are merged in archive order, so discovery order and the equal-height fork
// tie-break stay deterministic.
func (s *Scanner) Scan(ctx context.Context, files []blkfile.BlkFile, seeds []Seed) ([]*Node, error) {
	items := make([]scanItem, len(files))
	for i, f := range files {
		items[i] = scanItem{pos: i, file: f}
	}

	// Distinct pos per item, so the slots need no locking.
	results := make([][]headerRecord, len(files))
	err := workerpool.Process(ctx, s.workers, items, func(ctx context.Context, it scanItem) error {
		recs, err := s.scanFile(ctx, it.file)
		if err != nil {
			return err
		}
		results[it.pos] = recs
		return nil
	})
	if err != nil {
		return nil, err
	}

	g := NewGraph()
	for _, seed := range seeds {
		g.Seed(seed.Hash, seed.Height)
	}
	total := 0
	for _, recs := range results {
		for _, rec := range recs {
			g.Insert(rec.hash, rec.prev, rec.loc)
		}
		total += len(recs)
	}

	nodes, err := g.Canonical()
	if err != nil {
		return nil, err
	}
	s.logger.Info("header scan finished",
		zap.Int("files", len(files)),
		zap.Int("headers", total),
		zap.Int("canonical", len(nodes)),
		zap.Int("orphaned", g.Len()-len(nodes)),
	)
	return nodes, nil
}

func (s *Scanner) scanFile(ctx context.Context, f blkfile.BlkFile) ([]headerRecord, error) {
	var recs []headerRecord
	err := f.ForEachRecord(s.magic, func(payloadOffset int64, header []byte, payloadLength uint32) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		hash, err := codec.HeaderHash(header)
		if err != nil {
			return err
		}
		hdr, err := codec.DecodeHeader(header)
		if err != nil {
			return err
		}
		recs = append(recs, headerRecord{
			hash: hash,
			prev: hdr.PrevBlock,
			loc: model.BlockLocation{
				BlkIndex: f.Index,
				Offset:   payloadOffset,
				Length:   payloadLength,
			},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan blk %05d: %w", f.Index, err)
	}
	s.logger.Debug("scanned archive file", zap.Int("blk_index", f.Index), zap.Int("headers", len(recs)))
	return recs, nil
}
