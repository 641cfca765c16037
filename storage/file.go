package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Compile-time check that File implements Store.
var _ Store = (*File)(nil)

// File stores each slot as a zstd-compressed file under a single
// directory. Writes go through a temporary file and a rename so a crash
// mid-write leaves the previous blob intact rather than a truncated one.
type File struct {
	dir string
	mu  sync.Mutex

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewFile creates a file-backed store rooted at dir, creating the
// directory if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &File{dir: dir, enc: enc, dec: dec}, nil
}

func (f *File) path(slot string) string {
	// Slot names are fixed identifiers chosen by this module, but keep the
	// filename safe regardless.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, slot)
	return filepath.Join(f.dir, safe+".zst")
}

func (f *File) Read(slot string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path(slot))
	if os.IsNotExist(err) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading slot %q: %w", slot, err)
	}

	data, err := f.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing slot %q: %w", slot, err)
	}

	return data, nil
}

func (f *File) Write(slot string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	compressed := f.enc.EncodeAll(data, nil)

	path := f.path(slot)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return fmt.Errorf("writing slot %q: %w", slot, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing slot %q: %w", slot, err)
	}

	return nil
}

func (f *File) Delete(slot string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(slot))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting slot %q: %w", slot, err)
	}

	return nil
}
