package collector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// ArchiveExt is the file extension of archive segments.
const ArchiveExt = ".frames.zst"

// Archive appends accepted storage frames to a zstd-compressed segment.
//
// Segment layout (after decompression): [Len uint32][Frame JSON]...
type Archive struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *zstd.Encoder
	path string
	rows int64
}

// OpenArchive creates a new segment in dir named after a fresh uuid.
func OpenArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "segment_"+uuid.NewString()+ArchiveExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	enc, err := zstd.NewWriter(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Archive{file: f, buf: buf, enc: enc, path: path}, nil
}

// Path returns the segment file path.
func (a *Archive) Path() string {
	return a.path
}

// Rows returns the number of frames written.
func (a *Archive) Rows() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rows
}

// Write appends one frame payload.
func (a *Archive) Write(payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := a.enc.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := a.enc.Write(payload); err != nil {
		return err
	}
	a.rows++
	return nil
}

// Sync flushes compressed data to disk. The segment stays readable up to
// the last Sync if the process dies.
func (a *Archive) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enc.Flush(); err != nil {
		return err
	}
	if err := a.buf.Flush(); err != nil {
		return err
	}
	return a.file.Sync()
}

// Close finishes the zstd stream and closes the file.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enc.Close(); err != nil {
		a.file.Close()
		return err
	}
	if err := a.buf.Flush(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}

// ReadArchive returns every frame payload stored in the segment at path.
func ReadArchive(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var rows [][]byte
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(dec, lenBuf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return rows, fmt.Errorf("archive read error (len): %w", err)
		}
		data := make([]byte, binary.LittleEndian.Uint32(lenBuf))
		if _, err := io.ReadFull(dec, data); err != nil {
			return rows, fmt.Errorf("archive read error (data): %w", err)
		}
		rows = append(rows, data)
	}
	return rows, nil
}
