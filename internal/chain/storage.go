package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/goodnatureofminers/blockparser7000-backend/internal/model"
)

// ErrCorruptState reports an unparsable or internally inconsistent persisted
// chain index. The operator is expected to force a fresh rescan.
var ErrCorruptState = errors.New("corrupt chain state")

const stateVersion = 1

// Entry is one persisted canonical block: its height, hash and location
// inside the archive corpus.
type Entry struct {
	Height   uint64 `json:"height"`
	Hash     string `json:"hash"`
	BlkIndex int    `json:"blk_index"`
	Offset   int64  `json:"offset"`
	Length   uint32 `json:"length"`
}

// Location returns the entry's archive locator.
func (e Entry) Location() model.BlockLocation {
	return model.BlockLocation{BlkIndex: e.BlkIndex, Offset: e.Offset, Length: e.Length}
}

type state struct {
	Version         int     `json:"version"`
	Entries         []Entry `json:"entries"`
	LatestBlkIndex  int     `json:"latest_blk_index"`
	ProcessedHeight int64   `json:"processed_height"`
}

// Storage is the persisted, resumable record of the canonical chain plus scan
// progress. Entries are indexed by height: Entries[i].Height == i. Mutation is
// append-only along the canonical path; a reorganization truncates explicitly
// before re-extending.
type Storage struct {
	path string
	st   state
}

// NewStorage creates an empty storage persisting to path.
func NewStorage(path string) *Storage {
	return &Storage{
		path: path,
		st:   state{Version: stateVersion, ProcessedHeight: -1},
	}
}

// Load reads a persisted chain index. A missing file surfaces as
// os.ErrNotExist so callers can start fresh; anything unparsable or
// inconsistent is ErrCorruptState.
func Load(path string) (*Storage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v; rescan with --new", ErrCorruptState, path, err)
	}
	if st.Version != stateVersion {
		return nil, fmt.Errorf("%w: %s has version %d, want %d; rescan with --new", ErrCorruptState, path, st.Version, stateVersion)
	}
	for i, e := range st.Entries {
		if e.Height != uint64(i) {
			return nil, fmt.Errorf("%w: %s entry %d has height %d; rescan with --new", ErrCorruptState, path, i, e.Height)
		}
	}
	if st.ProcessedHeight >= int64(len(st.Entries)) {
		return nil, fmt.Errorf("%w: %s processed height %d beyond %d entries; rescan with --new", ErrCorruptState, path, st.ProcessedHeight, len(st.Entries))
	}
	return &Storage{path: path, st: st}, nil
}

// Save atomically replaces the state file: the new state is written to a
// temporary file in the same directory, synced and renamed over the old one,
// so a crash mid-write never corrupts the previous valid state.
func (s *Storage) Save() error {
	raw, err := json.Marshal(s.st)
	if err != nil {
		return fmt.Errorf("encode chain state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".chain-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace chain state: %w", err)
	}
	return nil
}

// Len returns the number of canonical entries.
func (s *Storage) Len() int {
	return len(s.st.Entries)
}

// Tip returns the highest canonical entry.
func (s *Storage) Tip() (Entry, bool) {
	if len(s.st.Entries) == 0 {
		return Entry{}, false
	}
	return s.st.Entries[len(s.st.Entries)-1], true
}

// CurrentHeight returns the height of the canonical tip, or zero when empty.
func (s *Storage) CurrentHeight() uint64 {
	tip, ok := s.Tip()
	if !ok {
		return 0
	}
	return tip.Height
}

// LatestBlkIndex returns the highest archive file index fully scanned.
func (s *Storage) LatestBlkIndex() int {
	return s.st.LatestBlkIndex
}

// ProcessedHeight returns the last height delivered to a callback, or -1.
func (s *Storage) ProcessedHeight() int64 {
	return s.st.ProcessedHeight
}

// SetProcessedHeight records delivery progress. Only the orchestrating task
// mutates storage.
func (s *Storage) SetProcessedHeight(h uint64) {
	s.st.ProcessedHeight = int64(h)
}

// Remaining counts canonical entries not yet delivered to a callback.
func (s *Storage) Remaining() uint64 {
	return uint64(int64(len(s.st.Entries)) - 1 - s.st.ProcessedHeight)
}

// Unprocessed returns the canonical entries past the delivery watermark, in
// ascending height order.
func (s *Storage) Unprocessed() []Entry {
	first := s.st.ProcessedHeight + 1
	if first >= int64(len(s.st.Entries)) {
		return nil
	}
	return s.st.Entries[first:]
}

// Seeds returns one scan anchor per stored entry. Anchoring every entry, not
// only the tip, lets a rescan resolve a branch forking anywhere below the tip
// and report it as a reorganization instead of an orphan.
func (s *Storage) Seeds() ([]Seed, error) {
	seeds := make([]Seed, len(s.st.Entries))
	for i, e := range s.st.Entries {
		hash, err := chainhash.NewHashFromStr(e.Hash)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d hash %q: %v; rescan with --new", ErrCorruptState, i, e.Hash, err)
		}
		seeds[i] = Seed{Hash: *hash, Height: e.Height}
	}
	return seeds, nil
}

// Reconcile merges a freshly resolved canonical chain into storage. Entries
// already present with matching hashes are kept; a mismatch is a
// reorganization and truncates storage back to the fork point before
// re-extending. Contiguity and hash linkage are re-validated on every
// appended entry. Returns the number of truncated and appended entries.
func (s *Storage) Reconcile(nodes []*Node, latestBlkIndex int) (truncated, appended int, err error) {
	for _, n := range nodes {
		hash := n.Hash.String()
		if n.Height < uint64(len(s.st.Entries)) {
			if s.st.Entries[n.Height].Hash == hash {
				continue
			}
			// Reorg: a previously canonical entry is now orphaned.
			truncated += len(s.st.Entries) - int(n.Height)
			s.st.Entries = s.st.Entries[:n.Height]
			if s.st.ProcessedHeight >= int64(n.Height) {
				s.st.ProcessedHeight = int64(n.Height) - 1
			}
		}

		if n.Height != uint64(len(s.st.Entries)) {
			return truncated, appended, fmt.Errorf("extend with height %d onto %d entries: %w", n.Height, len(s.st.Entries), ErrCorruptChain)
		}
		if len(s.st.Entries) > 0 && n.Prev.String() != s.st.Entries[len(s.st.Entries)-1].Hash {
			return truncated, appended, fmt.Errorf("block %s at height %d does not link to stored parent: %w", hash, n.Height, ErrCorruptChain)
		}

		s.st.Entries = append(s.st.Entries, Entry{
			Height:   n.Height,
			Hash:     hash,
			BlkIndex: n.Loc.BlkIndex,
			Offset:   n.Loc.Offset,
			Length:   n.Loc.Length,
		})
		appended++
	}

	if latestBlkIndex > s.st.LatestBlkIndex {
		s.st.LatestBlkIndex = latestBlkIndex
	}
	return truncated, appended, nil
}
