package callback

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
)

// SimpleStats aggregates counters over the delivered range and prints a
// summary on completion. It takes no arguments.
type SimpleStats struct {
	logger *zap.Logger

	startHeight uint64
	blocks      uint64
	txs         uint64
	inputs      uint64
	outputs     uint64
	volume      btcutil.Amount

	firstTime uint32
	lastTime  uint32

	largestBlockSize   uint32
	largestBlockHeight uint64
	largestTxValue     btcutil.Amount
	largestTxID        string
}

// NewSimpleStats creates an unconfigured SimpleStats callback.
func NewSimpleStats(logger *zap.Logger) *SimpleStats {
	return &SimpleStats{logger: logger}
}

func (s *SimpleStats) Configure(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("simplestats takes no arguments, got %d: %w", len(args), ErrInvalidArguments)
	}
	return nil
}

func (s *SimpleStats) OnStart(_ context.Context, height uint64) error {
	s.startHeight = height
	s.logger.Info("collecting statistics", zap.Uint64("start_height", height))
	return nil
}

func (s *SimpleStats) OnBlock(_ context.Context, b *model.Block) error {
	s.blocks++
	s.txs += uint64(len(b.Txs))

	if s.firstTime == 0 || b.Header.Timestamp < s.firstTime {
		s.firstTime = b.Header.Timestamp
	}
	if b.Header.Timestamp > s.lastTime {
		s.lastTime = b.Header.Timestamp
	}
	if b.Size > s.largestBlockSize {
		s.largestBlockSize = b.Size
		s.largestBlockHeight = b.Height
	}

	for _, tx := range b.Txs {
		s.inputs += uint64(len(tx.Inputs))
		s.outputs += uint64(len(tx.Outputs))

		var txValue btcutil.Amount
		for _, out := range tx.Outputs {
			txValue += btcutil.Amount(out.Value)
		}
		s.volume += txValue
		if txValue > s.largestTxValue {
			s.largestTxValue = txValue
			s.largestTxID = tx.TxID.String()
		}
	}
	return nil
}

func (s *SimpleStats) OnComplete(_ context.Context, height uint64) error {
	fmt.Printf("SimpleStats:\n")
	fmt.Printf("   -> processed heights: %d..%d\n", s.startHeight, height)
	fmt.Printf("   -> blocks:            %d\n", s.blocks)
	fmt.Printf("   -> transactions:      %d\n", s.txs)
	fmt.Printf("   -> inputs:            %d\n", s.inputs)
	fmt.Printf("   -> outputs:           %d\n", s.outputs)
	fmt.Printf("   -> total volume:      %s\n", s.volume)
	if s.blocks > 0 {
		fmt.Printf("   -> first block time:  %s\n", time.Unix(int64(s.firstTime), 0).UTC().Format(time.RFC3339))
		fmt.Printf("   -> last block time:   %s\n", time.Unix(int64(s.lastTime), 0).UTC().Format(time.RFC3339))
		fmt.Printf("   -> largest block:     %d bytes at height %d\n", s.largestBlockSize, s.largestBlockHeight)
	}
	if s.largestTxID != "" {
		fmt.Printf("   -> largest tx:        %s (%s)\n", s.largestTxID, s.largestTxValue)
	}
	return nil
}
