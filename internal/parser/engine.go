package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/blkfile"
	"github.com/goodnatureofminers/blockparser7000-backend/internal/chain"
	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
)

var (
	// ErrNothingToDo reports that every known canonical block has already been
	// delivered and no new archive data was found.
	ErrNothingToDo = errors.New("nothing to do")

	// ErrVerificationMismatch reports a recomputed merkle root that differs
	// from the one declared in the block header.
	ErrVerificationMismatch = errors.New("merkle root mismatch")

	// ErrBackend wraps failures raised by the callback.
	ErrBackend = errors.New("callback failure")
)

// A run is at most one header-only pass followed by one full-data pass.
const maxIterations = 2

// Options configures a single engine run.
type Options struct {
	BlocksDir        string
	StoragePath      string
	Magic            uint32
	Workers          int
	Backlog          int
	SaveInterval     int
	VerifyMerkleRoot bool
	Resume           bool
	New              bool
}

// Engine drives the two-phase run over an archive directory.
type Engine struct {
	opts    Options
	cb      Callback
	metrics Metrics
	logger  *zap.Logger
}

// New constructs an Engine and validates its dependencies.
func New(opts Options, cb Callback, metrics Metrics, logger *zap.Logger) (*Engine, error) {
	if opts.BlocksDir == "" {
		return nil, errors.New("blocks directory is required")
	}
	if opts.StoragePath == "" {
		return nil, errors.New("chain state path is required")
	}
	if opts.Workers < 1 {
		return nil, errors.New("worker count must be positive")
	}
	if opts.Backlog < 1 {
		return nil, errors.New("backlog must be positive")
	}
	if opts.SaveInterval < 1 {
		return nil, errors.New("save interval must be positive")
	}
	if opts.New && opts.Resume {
		return nil, errors.New("--new and --resume are mutually exclusive")
	}
	if cb == nil {
		return nil, errors.New("callback is required")
	}
	if metrics == nil {
		return nil, errors.New("metrics is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Engine{opts: opts, cb: cb, metrics: metrics, logger: logger}, nil
}

// Run executes up to one header-only iteration and one full-data iteration.
// A header scan runs when no chain state exists yet or when resuming; the
// full-data pass then delivers every not-yet-processed canonical block to the
// callback. When nothing remains to deliver, Run fails with ErrNothingToDo.
func (e *Engine) Run(ctx context.Context) (err error) {
	started := time.Now()
	mode := model.HeaderOnly
	defer func() {
		e.metrics.ObserveRun(err, mode.String(), started)
	}()

	st, err := e.openStorage()
	if err != nil {
		return err
	}

	scanNeeded := st.Len() == 0 || e.opts.Resume
	for iteration := 1; iteration <= maxIterations; iteration++ {
		mode = model.FullData
		if scanNeeded {
			mode = model.HeaderOnly
		}
		e.logger.Info("starting iteration",
			zap.Int("iteration", iteration),
			zap.Stringer("mode", mode),
		)

		if mode == model.HeaderOnly {
			if err := e.runHeaderScan(ctx, st); err != nil {
				return err
			}
			scanNeeded = false
			continue
		}

		if st.Remaining() == 0 {
			return fmt.Errorf("all %d known blocks are processed, look for new archive files with --resume or force a full rescan with --new: %w",
				st.Len(), ErrNothingToDo)
		}
		return e.runFullData(ctx, st)
	}
	return nil
}

// openStorage loads persisted chain state, starts fresh when none exists, and
// discards any existing state when a full rescan was forced.
func (e *Engine) openStorage() (*chain.Storage, error) {
	if e.opts.New {
		if err := os.Remove(e.opts.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove chain state: %w", err)
		}
		e.logger.Info("starting with fresh chain state", zap.String("path", e.opts.StoragePath))
		return chain.NewStorage(e.opts.StoragePath), nil
	}

	st, err := chain.Load(e.opts.StoragePath)
	if errors.Is(err, os.ErrNotExist) {
		return chain.NewStorage(e.opts.StoragePath), nil
	}
	if err != nil {
		return nil, err
	}
	e.logger.Info("loaded chain state",
		zap.String("path", e.opts.StoragePath),
		zap.Int("blocks", st.Len()),
		zap.Int64("processed_height", st.ProcessedHeight()),
		zap.Int("latest_blk_index", st.LatestBlkIndex()),
	)
	return st, nil
}

// runHeaderScan scans archive files for headers, resolves the canonical chain
// and persists it. A non-empty storage seeds the scan with every stored entry
// and re-reads only the latest archive file onward; a rescanned branch forking
// below the tip still resolves through its stored parent and surfaces as a
// reorganization.
func (e *Engine) runHeaderScan(ctx context.Context, st *chain.Storage) (err error) {
	started := time.Now()
	files, headers := 0, 0
	defer func() {
		e.metrics.ObserveHeaderScan(err, files, headers, started)
	}()

	seeds, err := st.Seeds()
	if err != nil {
		return err
	}
	startIdx := 0
	if len(seeds) > 0 {
		startIdx = st.LatestBlkIndex()
	}

	list, err := blkfile.FromPath(e.opts.BlocksDir, startIdx)
	if err != nil {
		return err
	}
	files = len(list)

	scanner := chain.NewScanner(e.opts.Magic, e.opts.Workers, e.logger)
	nodes, err := scanner.Scan(ctx, list, seeds)
	if err != nil {
		return err
	}
	headers = len(nodes)

	if len(seeds) == 0 && len(nodes) > 0 && e.opts.Magic == blkfile.DefaultMagic &&
		nodes[0].Hash != *chaincfg.MainNetParams.GenesisHash {
		e.logger.Warn("chain does not start at the mainnet genesis block",
			zap.Stringer("first_block", nodes[0].Hash),
		)
	}

	truncated, appended, err := st.Reconcile(nodes, list[len(list)-1].Index)
	if err != nil {
		return err
	}
	if truncated > 0 {
		e.logger.Warn("chain reorganization detected", zap.Int("orphaned_blocks", truncated))
	}
	e.logger.Info("chain state updated",
		zap.Int("appended", appended),
		zap.Int("total", st.Len()),
		zap.Uint64("height", st.CurrentHeight()),
	)
	return st.Save()
}
