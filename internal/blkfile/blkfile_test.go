package blkfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/blockgen"
	"github.com/goodnatureofminers/blockparser7000-backend/internal/codec"
)

func writeFile(t *testing.T, dir, name string, raw []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestFromPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "blk00000.dat", []byte{1})
	writeFile(t, dir, "blk00002.dat", []byte{1, 2})
	writeFile(t, dir, "blk123.dat", []byte{1})   // wrong digit count
	writeFile(t, dir, "notablk.dat", []byte{1})

	tests := []struct {
		name        string
		dir         string
		start       int
		wantIndices []int
		wantErr     bool
	}{
		{name: "all files sorted", dir: dir, start: 0, wantIndices: []int{0, 2}},
		{name: "start skips earlier indices", dir: dir, start: 1, wantIndices: []int{2}},
		{name: "start beyond all files", dir: dir, start: 3, wantErr: true},
		{name: "missing directory", dir: filepath.Join(dir, "nope"), start: 0, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			files, err := FromPath(tt.dir, tt.start)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromPath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("FromPath() error = %v, want ErrNotFound", err)
				}
				return
			}
			if len(files) != len(tt.wantIndices) {
				t.Fatalf("got %d files, want %d", len(files), len(tt.wantIndices))
			}
			for i, want := range tt.wantIndices {
				if files[i].Index != want {
					t.Errorf("file %d has index %d, want %d", i, files[i].Index, want)
				}
			}
		})
	}
}

func TestForEachRecord(t *testing.T) {
	payloads := blockgen.Chain(2)

	var raw []byte
	raw = append(raw, blockgen.Record(DefaultMagic, payloads[0])...)
	garbageAt := len(raw)
	raw = append(raw, 0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03)
	secondAt := len(raw)
	raw = append(raw, blockgen.Record(DefaultMagic, payloads[1])...)
	raw = append(raw, make([]byte, 16)...) // preallocation padding

	dir := t.TempDir()
	writeFile(t, dir, "blk00000.dat", raw)
	files, err := FromPath(dir, 0)
	if err != nil {
		t.Fatalf("FromPath() error = %v", err)
	}

	type record struct {
		offset int64
		hash   chainhash.Hash
		length uint32
	}
	var got []record
	err = files[0].ForEachRecord(DefaultMagic, func(payloadOffset int64, header []byte, payloadLength uint32) error {
		got = append(got, record{
			offset: payloadOffset,
			hash:   chainhash.DoubleHashH(header),
			length: payloadLength,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachRecord() error = %v", err)
	}

	want := []record{
		{offset: 8, hash: blockgen.Hash(payloads[0]), length: uint32(len(payloads[0]))},
		{offset: int64(secondAt) + 8, hash: blockgen.Hash(payloads[1]), length: uint32(len(payloads[1]))},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d (garbage at %d)", len(got), len(want), garbageAt)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestForEachRecord_lengthPastEOF(t *testing.T) {
	payload := blockgen.Chain(1)[0]

	var raw []byte
	raw = binary.LittleEndian.AppendUint32(raw, DefaultMagic)
	raw = binary.LittleEndian.AppendUint32(raw, uint32(len(payload)+100))
	raw = append(raw, payload...)

	dir := t.TempDir()
	writeFile(t, dir, "blk00000.dat", raw)
	files, err := FromPath(dir, 0)
	if err != nil {
		t.Fatalf("FromPath() error = %v", err)
	}

	err = files[0].ForEachRecord(DefaultMagic, func(int64, []byte, uint32) error {
		t.Fatal("callback invoked for a record running past EOF")
		return nil
	})
	if !errors.Is(err, codec.ErrMalformedRecord) {
		t.Fatalf("ForEachRecord() error = %v, want ErrMalformedRecord", err)
	}
}

func TestForEachRecord_callbackErrorStops(t *testing.T) {
	dir := t.TempDir()
	blockgen.WriteBlkFile(t, dir, 0, DefaultMagic, blockgen.Chain(3)...)
	files, err := FromPath(dir, 0)
	if err != nil {
		t.Fatalf("FromPath() error = %v", err)
	}

	boom := fmt.Errorf("boom")
	calls := 0
	err = files[0].ForEachRecord(DefaultMagic, func(int64, []byte, uint32) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ForEachRecord() error = %v, want %v", err, boom)
	}
	if calls != 2 {
		t.Fatalf("callback ran %d times, want 2", calls)
	}
}

func TestReadRegion(t *testing.T) {
	payloads := blockgen.Chain(2)
	dir := t.TempDir()
	blockgen.WriteBlkFile(t, dir, 0, DefaultMagic, payloads...)
	files, err := FromPath(dir, 0)
	if err != nil {
		t.Fatalf("FromPath() error = %v", err)
	}

	offset := int64(8 + len(payloads[0]) + 8)
	got, err := files[0].ReadRegion(offset, uint32(len(payloads[1])))
	if err != nil {
		t.Fatalf("ReadRegion() error = %v", err)
	}
	if string(got) != string(payloads[1]) {
		t.Fatal("ReadRegion() returned different bytes than written")
	}

	if _, err := files[0].ReadRegion(files[0].Size-4, 100); !errors.Is(err, codec.ErrMalformedRecord) {
		t.Fatalf("ReadRegion() past EOF error = %v, want ErrMalformedRecord", err)
	}
}
