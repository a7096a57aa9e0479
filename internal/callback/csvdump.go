package callback

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
)

// CSVDump writes blocks, transactions, inputs and outputs as four CSV files
// under a target directory. Scripts are hex encoded and never interpreted.
type CSVDump struct {
	logger *zap.Logger
	dir    string

	files   []*os.File
	buffers []*bufio.Writer

	blocks  *csv.Writer
	txs     *csv.Writer
	txIns   *csv.Writer
	txOuts  *csv.Writer
	written uint64
}

// NewCSVDump creates an unconfigured CSVDump callback.
func NewCSVDump(logger *zap.Logger) *CSVDump {
	return &CSVDump{logger: logger}
}

func (c *CSVDump) Configure(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("csvdump takes exactly one argument <output-dir>, got %d: %w", len(args), ErrInvalidArguments)
	}
	c.dir = args[0]
	return nil
}

func (c *CSVDump) OnStart(_ context.Context, height uint64) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	for _, target := range []struct {
		name   string
		header []string
		dst    **csv.Writer
	}{
		{"blocks.csv", []string{"hash", "height", "version", "size", "prev_hash", "merkle_root", "timestamp", "bits", "nonce", "tx_count"}, &c.blocks},
		{"transactions.csv", []string{"txid", "block_hash", "version", "lock_time", "size", "input_count", "output_count"}, &c.txs},
		{"tx_in.csv", []string{"txid", "prev_txid", "prev_index", "script_sig", "sequence"}, &c.txIns},
		{"tx_out.csv", []string{"txid", "index", "value", "script_pub_key"}, &c.txOuts},
	} {
		f, err := os.Create(filepath.Join(c.dir, target.name))
		if err != nil {
			c.closeFiles()
			return fmt.Errorf("create %s: %w", target.name, err)
		}
		buf := bufio.NewWriterSize(f, 1<<20)
		w := csv.NewWriter(buf)
		if err := w.Write(target.header); err != nil {
			c.closeFiles()
			return fmt.Errorf("write %s header: %w", target.name, err)
		}
		c.files = append(c.files, f)
		c.buffers = append(c.buffers, buf)
		*target.dst = w
	}

	c.logger.Info("dumping to csv", zap.String("dir", c.dir), zap.Uint64("start_height", height))
	return nil
}

func (c *CSVDump) OnBlock(_ context.Context, b *model.Block) error {
	blockHash := b.Hash.String()
	if err := c.blocks.Write([]string{
		blockHash,
		strconv.FormatUint(b.Height, 10),
		strconv.FormatUint(uint64(b.Header.Version), 10),
		strconv.FormatUint(uint64(b.Size), 10),
		b.Header.PrevBlock.String(),
		b.Header.MerkleRoot.String(),
		strconv.FormatUint(uint64(b.Header.Timestamp), 10),
		strconv.FormatUint(uint64(b.Header.Bits), 10),
		strconv.FormatUint(uint64(b.Header.Nonce), 10),
		strconv.Itoa(len(b.Txs)),
	}); err != nil {
		return fmt.Errorf("write block row: %w", err)
	}

	for _, tx := range b.Txs {
		txid := tx.TxID.String()
		if err := c.txs.Write([]string{
			txid,
			blockHash,
			strconv.FormatUint(uint64(tx.Version), 10),
			strconv.FormatUint(uint64(tx.LockTime), 10),
			strconv.FormatUint(uint64(tx.Size), 10),
			strconv.Itoa(len(tx.Inputs)),
			strconv.Itoa(len(tx.Outputs)),
		}); err != nil {
			return fmt.Errorf("write transaction row: %w", err)
		}

		for _, in := range tx.Inputs {
			if err := c.txIns.Write([]string{
				txid,
				in.PrevTxID.String(),
				strconv.FormatUint(uint64(in.PrevIndex), 10),
				hex.EncodeToString(in.ScriptSig),
				strconv.FormatUint(uint64(in.Sequence), 10),
			}); err != nil {
				return fmt.Errorf("write input row: %w", err)
			}
		}
		for i, out := range tx.Outputs {
			if err := c.txOuts.Write([]string{
				txid,
				strconv.Itoa(i),
				strconv.FormatUint(out.Value, 10),
				hex.EncodeToString(out.ScriptPubKey),
			}); err != nil {
				return fmt.Errorf("write output row: %w", err)
			}
		}
	}

	c.written++
	return nil
}

func (c *CSVDump) OnComplete(_ context.Context, height uint64) error {
	for _, w := range []*csv.Writer{c.blocks, c.txs, c.txIns, c.txOuts} {
		if w == nil {
			continue
		}
		w.Flush()
		if err := w.Error(); err != nil {
			c.closeFiles()
			return fmt.Errorf("flush csv: %w", err)
		}
	}
	for _, buf := range c.buffers {
		if err := buf.Flush(); err != nil {
			c.closeFiles()
			return fmt.Errorf("flush csv: %w", err)
		}
	}
	if err := c.closeFiles(); err != nil {
		return err
	}

	c.logger.Info("csv dump finished",
		zap.String("dir", c.dir),
		zap.Uint64("blocks", c.written),
		zap.Uint64("last_height", height),
	)
	return nil
}

func (c *CSVDump) closeFiles() error {
	var firstErr error
	for _, f := range c.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", f.Name(), err)
		}
	}
	c.files = nil
	return firstErr
}
