package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileStore is an append/overwrite file-backed Store. Every mutation is
// appended as a length-prefixed record to a single log file; on open, the
// file is replayed into an in-memory index so reads don't touch disk.
// Later records for the same key supersede earlier ones, and a delete is
// recorded as a separate key-only record (a tombstone).
type FileStore struct {
	mu   sync.Mutex
	path string
	file *os.File
	mem  *MemStore
}

const (
	recordPut    byte = 1
	recordDelete byte = 2
)

// OpenFileStore opens (creating if needed) a file-backed Store at path and
// replays its contents into memory.
func OpenFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	fs := &FileStore{
		path: path,
		file: f,
		mem:  NewMemStore(),
	}
	if err := fs.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) replay() error {
	if _, err := fs.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(fs.file)
replayLoop:
	for {
		kind, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("store: replay %s: %w", fs.path, err)
		}

		key, err := readLenPrefixed(r)
		if err != nil {
			// A truncated trailing record from a crash mid-write; stop
			// replaying at the last complete record.
			break
		}

		switch kind {
		case recordPut:
			value, err := readLenPrefixed(r)
			if err != nil {
				// Same truncation case, but discovered after the key.
				break replayLoop
			}
			fs.mem.Set(string(key), value)
		case recordDelete:
			fs.mem.Delete(string(key))
		default:
			return fmt.Errorf("store: replay %s: unknown record kind %d", fs.path, kind)
		}
	}
	if _, err := fs.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	return nil
}

func readLenPrefixed(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func (fs *FileStore) Get(key string) ([]byte, bool, error) {
	return fs.mem.Get(key)
}

func (fs *FileStore) Set(key string, value []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.file.Write([]byte{recordPut}); err != nil {
		return fmt.Errorf("store: append %s: %w", fs.path, err)
	}
	if err := writeLenPrefixed(fs.file, []byte(key)); err != nil {
		return fmt.Errorf("store: append %s: %w", fs.path, err)
	}
	if err := writeLenPrefixed(fs.file, value); err != nil {
		return fmt.Errorf("store: append %s: %w", fs.path, err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("store: sync %s: %w", fs.path, err)
	}
	return fs.mem.Set(key, value)
}

func (fs *FileStore) Delete(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.file.Write([]byte{recordDelete}); err != nil {
		return fmt.Errorf("store: append %s: %w", fs.path, err)
	}
	if err := writeLenPrefixed(fs.file, []byte(key)); err != nil {
		return fmt.Errorf("store: append %s: %w", fs.path, err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("store: sync %s: %w", fs.path, err)
	}
	return fs.mem.Delete(key)
}

func (fs *FileStore) IterPrefix(prefix string) ([]KV, error) {
	return fs.mem.IterPrefix(prefix)
}

func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
