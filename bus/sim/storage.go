package sim

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// Storage errors.
var (
	ErrOutOfRange = errors.New("block range beyond end of medium")
	ErrReadOnly   = errors.New("medium is write protected")
)

// Storage is the medium behind a simulated disk.
type Storage interface {
	// BlockSize returns the size of a block in bytes.
	BlockSize() int

	// Blocks returns the number of blocks on the medium.
	Blocks() int

	// ReadBlocks fills buf with n blocks starting at lba.
	ReadBlocks(lba, n int, buf []byte) error

	// WriteBlocks stores n blocks from buf starting at lba.
	WriteBlocks(lba, n int, buf []byte) error

	// ReadOnly reports whether writes are refused.
	ReadOnly() bool
}

func checkExtent(s Storage, lba, n int, buf []byte) error {
	if lba < 0 || n < 0 || lba+n > s.Blocks() {
		return fmt.Errorf("blocks %d+%d of %d: %w", lba, n, s.Blocks(), ErrOutOfRange)
	}
	if len(buf) < n*s.BlockSize() {
		return fmt.Errorf("buffer of %d bytes for %d blocks: %w", len(buf), n, ErrOutOfRange)
	}
	return nil
}

// MemoryStorage keeps the medium in RAM.
type MemoryStorage struct {
	mutex     sync.RWMutex
	data      []byte
	blockSize int
	readOnly  bool
}

// NewMemoryStorage creates a zeroed medium of blocks × blockSize bytes.
func NewMemoryStorage(blocks, blockSize int) *MemoryStorage {
	return &MemoryStorage{
		data:      make([]byte, blocks*blockSize),
		blockSize: blockSize,
	}
}

func (m *MemoryStorage) BlockSize() int { return m.blockSize }

func (m *MemoryStorage) Blocks() int { return len(m.data) / m.blockSize }

func (m *MemoryStorage) ReadBlocks(lba, n int, buf []byte) error {
	if err := checkExtent(m, lba, n, buf); err != nil {
		return err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	off := lba * m.blockSize
	copy(buf, m.data[off:off+n*m.blockSize])
	return nil
}

func (m *MemoryStorage) WriteBlocks(lba, n int, buf []byte) error {
	if err := checkExtent(m, lba, n, buf); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.readOnly {
		return ErrReadOnly
	}
	off := lba * m.blockSize
	copy(m.data[off:off+n*m.blockSize], buf)
	return nil
}

func (m *MemoryStorage) ReadOnly() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.readOnly
}

// SetReadOnly write-protects the medium.
func (m *MemoryStorage) SetReadOnly(ro bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.readOnly = ro
}

// FileStorage keeps the medium in an image file. Bytes past the last whole
// block are ignored.
type FileStorage struct {
	mutex     sync.Mutex
	file      *os.File
	blockSize int
	blocks    int
	readOnly  bool
}

// OpenFileStorage opens the image at path.
func OpenFileStorage(path string, blockSize int, readOnly bool) (*FileStorage, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileStorage{
		file:      f,
		blockSize: blockSize,
		blocks:    int(st.Size()) / blockSize,
		readOnly:  readOnly,
	}, nil
}

func (f *FileStorage) BlockSize() int { return f.blockSize }

func (f *FileStorage) Blocks() int { return f.blocks }

func (f *FileStorage) ReadOnly() bool { return f.readOnly }

func (f *FileStorage) ReadBlocks(lba, n int, buf []byte) error {
	if err := checkExtent(f, lba, n, buf); err != nil {
		return err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	_, err := f.file.ReadAt(buf[:n*f.blockSize], int64(lba*f.blockSize))
	return err
}

func (f *FileStorage) WriteBlocks(lba, n int, buf []byte) error {
	if err := checkExtent(f, lba, n, buf); err != nil {
		return err
	}
	if f.readOnly {
		return ErrReadOnly
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if _, err := f.file.WriteAt(buf[:n*f.blockSize], int64(lba*f.blockSize)); err != nil {
		return err
	}
	return f.file.Sync()
}

// Close closes the image file.
func (f *FileStorage) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
