package callback

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
	"github.com/goodnatureofminers/blockparser7000-backend/pkg/batcher"
)

const (
	chFlushSize     = 1000
	chFlushInterval = time.Second
	chFlushRPS      = 10
)

type blockRow struct {
	Height     uint64
	Hash       string
	PrevHash   string
	MerkleRoot string
	Timestamp  time.Time
	Bits       uint32
	Nonce      uint32
	Version    uint32
	Size       uint32
	TxCount    uint32
}

type txRow struct {
	BlockHeight uint64
	BlockHash   string
	TxID        string
	Version     uint32
	LockTime    uint32
	Size        uint32
	InputCount  uint32
	OutputCount uint32
	TotalOut    uint64
}

// ClickHouseDump batch-inserts block and transaction rows into ClickHouse.
// Rows are buffered through batchers, so a delivery is only as durable as the
// final OnComplete flush.
type ClickHouseDump struct {
	logger *zap.Logger
	dsn    string

	conn    driver.Conn
	blocks  *batcher.Batcher[blockRow]
	txs     *batcher.Batcher[txRow]
	written uint64
}

// NewClickHouseDump creates an unconfigured ClickHouseDump callback.
func NewClickHouseDump(logger *zap.Logger) *ClickHouseDump {
	return &ClickHouseDump{logger: logger}
}

func (c *ClickHouseDump) Configure(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("clickhousedump takes exactly one argument <dsn>, got %d: %w", len(args), ErrInvalidArguments)
	}
	if _, err := clickhouse.ParseDSN(args[0]); err != nil {
		return fmt.Errorf("parse clickhouse dsn: %w: %w", err, ErrInvalidArguments)
	}
	c.dsn = args[0]
	return nil
}

func (c *ClickHouseDump) OnStart(ctx context.Context, height uint64) error {
	options, err := clickhouse.ParseDSN(c.dsn)
	if err != nil {
		return fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(options)
	if err != nil {
		return fmt.Errorf("open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("ping clickhouse: %w", err)
	}
	c.conn = conn

	c.blocks = batcher.New(c.logger, c.insertBlocks, chFlushSize, chFlushInterval, chFlushRPS)
	c.txs = batcher.New(c.logger, c.insertTransactions, chFlushSize, chFlushInterval, chFlushRPS)
	c.blocks.Start(ctx)
	c.txs.Start(ctx)

	c.logger.Info("dumping to clickhouse", zap.Uint64("start_height", height))
	return nil
}

func (c *ClickHouseDump) OnBlock(ctx context.Context, b *model.Block) error {
	err := c.blocks.Add(ctx, blockRow{
		Height:     b.Height,
		Hash:       b.Hash.String(),
		PrevHash:   b.Header.PrevBlock.String(),
		MerkleRoot: b.Header.MerkleRoot.String(),
		Timestamp:  time.Unix(int64(b.Header.Timestamp), 0).UTC(),
		Bits:       b.Header.Bits,
		Nonce:      b.Header.Nonce,
		Version:    b.Header.Version,
		Size:       b.Size,
		TxCount:    uint32(len(b.Txs)),
	})
	if err != nil {
		return fmt.Errorf("queue block row: %w", err)
	}

	for _, tx := range b.Txs {
		var totalOut uint64
		for _, out := range tx.Outputs {
			totalOut += out.Value
		}
		err := c.txs.Add(ctx, txRow{
			BlockHeight: b.Height,
			BlockHash:   b.Hash.String(),
			TxID:        tx.TxID.String(),
			Version:     tx.Version,
			LockTime:    tx.LockTime,
			Size:        tx.Size,
			InputCount:  uint32(len(tx.Inputs)),
			OutputCount: uint32(len(tx.Outputs)),
			TotalOut:    totalOut,
		})
		if err != nil {
			return fmt.Errorf("queue transaction row: %w", err)
		}
	}

	c.written++
	return nil
}

func (c *ClickHouseDump) OnComplete(_ context.Context, height uint64) error {
	var firstErr error
	for _, b := range []interface{ Close() error }{c.blocks, c.txs} {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush clickhouse batches: %w", err)
		}
	}
	if err := c.conn.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close clickhouse connection: %w", err)
	}
	if firstErr != nil {
		return firstErr
	}

	c.logger.Info("clickhouse dump finished",
		zap.Uint64("blocks", c.written),
		zap.Uint64("last_height", height),
	)
	return nil
}

func (c *ClickHouseDump) insertBlocks(ctx context.Context, rows []blockRow) error {
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO blockparser_blocks")
	if err != nil {
		return fmt.Errorf("prepare blocks batch: %w", err)
	}
	for _, row := range rows {
		err := batch.Append(
			row.Height,
			row.Hash,
			row.PrevHash,
			row.MerkleRoot,
			row.Timestamp,
			row.Bits,
			row.Nonce,
			row.Version,
			row.Size,
			row.TxCount,
		)
		if err != nil {
			return fmt.Errorf("append block row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send blocks batch: %w", err)
	}
	return nil
}

func (c *ClickHouseDump) insertTransactions(ctx context.Context, rows []txRow) error {
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO blockparser_transactions")
	if err != nil {
		return fmt.Errorf("prepare transactions batch: %w", err)
	}
	for _, row := range rows {
		err := batch.Append(
			row.BlockHeight,
			row.BlockHash,
			row.TxID,
			row.Version,
			row.LockTime,
			row.Size,
			row.InputCount,
			row.OutputCount,
			row.TotalOut,
		)
		if err != nil {
			return fmt.Errorf("append transaction row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send transactions batch: %w", err)
	}
	return nil
}
