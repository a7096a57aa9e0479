// Package blkfile enumerates block archive files and iterates their framed records.
package blkfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/codec"
	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
)

// ErrNotFound reports a missing archive directory or a directory without any
// blkNNNNN.dat files.
var ErrNotFound = errors.New("no block archive files found")

// DefaultMagic is the mainnet record marker.
const DefaultMagic = uint32(wire.MainNet)

var blkName = regexp.MustCompile(`^blk(\d{5})\.dat$`)

// BlkFile describes one on-disk archive file. It owns no mutable state.
type BlkFile struct {
	Index int
	Path  string
	Size  int64
}

// FromPath lists archive files under dir with sequence index >= start, sorted
// ascending. Files not matching the blkNNNNN.dat naming are ignored.
func FromPath(dir string, start int) ([]BlkFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive directory %s: %w", dir, ErrNotFound)
		}
		return nil, fmt.Errorf("read archive directory %s: %w", dir, err)
	}

	files := make([]BlkFile, 0, len(entries))
	for _, entry := range entries {
		m := blkName.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < start {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		files = append(files, BlkFile{
			Index: idx,
			Path:  filepath.Join(dir, entry.Name()),
			Size:  info.Size(),
		})
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("archive directory %s has no blk files with index >= %d: %w", dir, start, ErrNotFound)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Index < files[j].Index
	})
	return files, nil
}

// ReadRegion reads length bytes at offset. Each call opens its own read-only
// handle, so regions may be read concurrently from multiple goroutines.
func (f BlkFile) ReadRegion(offset int64, length uint32) ([]byte, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	buf := make([]byte, length)
	if _, err := file.ReadAt(buf, offset); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("blk %05d region %d+%d past end of file: %w", f.Index, offset, length, codec.ErrMalformedRecord)
		}
		return nil, fmt.Errorf("read %s at %d: %w", f.Path, offset, err)
	}
	return buf, nil
}

// ForEachRecord walks the framed records of the file: magic marker, 4-byte
// little-endian payload length, payload. fn receives the payload offset, the
// 80 header bytes and the full payload length. Bytes not matching the magic
// are skipped one at a time until the stream resynchronizes; a zero word means
// preallocation padding and ends the walk. A declared length running past the
// end of the file is a malformed record, not a silent skip.
func (f BlkFile) ForEachRecord(magic uint32, fn func(payloadOffset int64, header []byte, payloadLength uint32) error) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	r := bufio.NewReaderSize(file, 1<<20)
	window := make([]byte, 4)
	if _, err := io.ReadFull(r, window); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		return fmt.Errorf("read %s: %w", f.Path, err)
	}

	var offset int64 // position of the first window byte
	header := make([]byte, model.BlockHeaderLen)
	for {
		word := binary.LittleEndian.Uint32(window)
		if word == 0 {
			return nil
		}
		if word != magic {
			b, err := r.ReadByte()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("read %s: %w", f.Path, err)
			}
			copy(window, window[1:])
			window[3] = b
			offset++
			continue
		}

		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return fmt.Errorf("blk %05d record at %d truncated length field: %w", f.Index, offset, codec.ErrMalformedRecord)
		}
		length := binary.LittleEndian.Uint32(lenBuf[:])
		payloadOffset := offset + 8
		if length < model.BlockHeaderLen || payloadOffset+int64(length) > f.Size {
			return fmt.Errorf("blk %05d record at %d declares %d payload bytes, %d available: %w",
				f.Index, offset, length, f.Size-payloadOffset, codec.ErrMalformedRecord)
		}

		if _, err := io.ReadFull(r, header); err != nil {
			return fmt.Errorf("blk %05d record at %d truncated header: %w", f.Index, offset, codec.ErrMalformedRecord)
		}
		if err := fn(payloadOffset, header, length); err != nil {
			return err
		}

		if _, err := r.Discard(int(length) - model.BlockHeaderLen); err != nil {
			return fmt.Errorf("blk %05d record at %d truncated payload: %w", f.Index, offset, codec.ErrMalformedRecord)
		}
		offset = payloadOffset + int64(length)

		if _, err := io.ReadFull(r, window); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", f.Path, err)
		}
	}
}
