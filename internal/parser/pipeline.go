package parser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/blkfile"
	"github.com/goodnatureofminers/blockparser7000-backend/internal/chain"
	"github.com/goodnatureofminers/blockparser7000-backend/internal/codec"
	"github.com/goodnatureofminers/blockparser7000-backend/internal/merkle"
	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
	"github.com/goodnatureofminers/blockparser7000-backend/pkg/workerpool"
)

type job struct {
	entry chain.Entry
	file  blkfile.BlkFile
}

// runFullData decodes every unprocessed canonical block and delivers it to
// the callback. Decoding runs on a worker pool; a reordering stage restores
// strict height order before the single dispatching goroutine hands blocks to
// the callback and advances the persisted watermark. Decode lookahead is
// gated to a window past the watermark, so a slow decode never piles the rest
// of the corpus into the reordering stage. The first error from any stage
// cancels the rest of the run.
func (e *Engine) runFullData(ctx context.Context, st *chain.Storage) error {
	entries := st.Unprocessed()
	first := entries[0].Height
	last := entries[len(entries)-1].Height

	files, err := e.archiveFiles()
	if err != nil {
		return err
	}
	jobs := make([]job, len(entries))
	for i, entry := range entries {
		f, ok := files[entry.BlkIndex]
		if !ok {
			return fmt.Errorf("blk %05d referenced by chain state is missing: %w", entry.BlkIndex, blkfile.ErrNotFound)
		}
		jobs[i] = job{entry: entry, file: f}
	}

	e.logger.Info("processing blocks",
		zap.Uint64("first_height", first),
		zap.Uint64("last_height", last),
		zap.Int("count", len(jobs)),
		zap.Bool("verify_merkle_root", e.opts.VerifyMerkleRoot),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := e.cb.OnStart(ctx, first); err != nil {
		return fmt.Errorf("callback start: %w: %w", err, ErrBackend)
	}

	gate := newLookahead(first, uint64(e.opts.Workers+e.opts.Backlog))
	defer gate.close()

	decoded := make(chan *model.Block, e.opts.Backlog)
	ordered := make(chan *model.Block, e.opts.Backlog)

	decodeErr := make(chan error, 1)
	go func() {
		defer close(decoded)
		decodeErr <- workerpool.Process(ctx, e.opts.Workers, jobs, e.decodeJob(gate, decoded))
	}()

	// Workers finish out of order; release blocks strictly by height.
	go func() {
		defer close(ordered)
		pending := make(map[uint64]*model.Block, e.opts.Workers+e.opts.Backlog)
		next := first
		for blk := range decoded {
			pending[blk.Height] = blk
			for {
				b, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				select {
				case ordered <- b:
					next++
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	sinceSave := 0
	for blk := range ordered {
		dispatchStarted := time.Now()
		if derr := e.cb.OnBlock(ctx, blk); derr != nil {
			e.metrics.ObserveDispatch(derr, dispatchStarted)
			return fmt.Errorf("callback block %d: %w: %w", blk.Height, derr, ErrBackend)
		}
		st.SetProcessedHeight(blk.Height)
		e.metrics.ObserveDispatch(nil, dispatchStarted)
		gate.advance(blk.Height)

		sinceSave++
		if sinceSave >= e.opts.SaveInterval {
			if err := st.Save(); err != nil {
				return err
			}
			sinceSave = 0
			e.logger.Debug("progress saved", zap.Uint64("height", blk.Height))
		}
	}

	if perr := <-decodeErr; perr != nil {
		return perr
	}
	if err := st.Save(); err != nil {
		return err
	}
	if cerr := e.cb.OnComplete(ctx, last); cerr != nil {
		return fmt.Errorf("callback complete: %w: %w", cerr, ErrBackend)
	}

	e.logger.Info("run finished",
		zap.Uint64("blocks", last-first+1),
		zap.Uint64("last_height", last),
	)
	return nil
}

func (e *Engine) archiveFiles() (map[int]blkfile.BlkFile, error) {
	list, err := blkfile.FromPath(e.opts.BlocksDir, 0)
	if err != nil {
		return nil, err
	}
	files := make(map[int]blkfile.BlkFile, len(list))
	for _, f := range list {
		files[f.Index] = f
	}
	return files, nil
}

func (e *Engine) decodeJob(gate *lookahead, decoded chan<- *model.Block) func(context.Context, job) error {
	return func(ctx context.Context, j job) error {
		gate.wait(j.entry.Height)
		if err := ctx.Err(); err != nil {
			return err
		}
		started := time.Now()
		blk, err := e.decodeEntry(j)
		e.metrics.ObserveDecode(err, started)
		if err != nil {
			return err
		}
		select {
		case decoded <- blk:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// decodeEntry reads and decodes one block region, re-checks that the archive
// still holds the block the chain state points at, and verifies the merkle
// root when enabled.
func (e *Engine) decodeEntry(j job) (*model.Block, error) {
	payload, err := j.file.ReadRegion(j.entry.Offset, j.entry.Length)
	if err != nil {
		return nil, err
	}
	blk, _, err := codec.DecodeBlock(payload)
	if err != nil {
		return nil, fmt.Errorf("block at height %d: %w", j.entry.Height, err)
	}
	if blk.Hash.String() != j.entry.Hash {
		return nil, fmt.Errorf("block at height %d hashes to %s, chain state expects %s, archive changed since the header scan: %w",
			j.entry.Height, blk.Hash, j.entry.Hash, chain.ErrCorruptState)
	}
	blk.Height = j.entry.Height

	if e.opts.VerifyMerkleRoot && !merkle.Verify(blk) {
		return nil, fmt.Errorf("block %s at height %d: %w", blk.Hash, blk.Height, ErrVerificationMismatch)
	}
	return blk, nil
}

// lookahead gates decode workers to a bounded window past the delivery
// watermark, capping how many out-of-order blocks the reordering stage can
// hold at once.
type lookahead struct {
	mu     sync.Mutex
	cond   *sync.Cond
	next   uint64
	window uint64
	closed bool
}

func newLookahead(next, window uint64) *lookahead {
	l := &lookahead{next: next, window: window}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// wait blocks until height is within the window or the gate is closed. The
// worker decoding the watermark height itself never waits, so the window
// always drains.
func (l *lookahead) wait(height uint64) {
	l.mu.Lock()
	for !l.closed && height >= l.next+l.window {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

// advance moves the watermark past a delivered height and wakes waiters.
func (l *lookahead) advance(height uint64) {
	l.mu.Lock()
	l.next = height + 1
	l.mu.Unlock()
	l.cond.Broadcast()
}

// close releases all waiters on shutdown.
func (l *lookahead) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cond.Broadcast()
}
