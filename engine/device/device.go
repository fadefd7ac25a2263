package device

import (
	"io"
	"os"
	"path"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/logger"
	"github.com/zhukovaskychina/xkv-engine/util"
)

// Device 存储中间层: raw byte-addressed I/O over one file.
//
// All reads and writes are positional; the page layer above decides
// offsets and sizes. In-memory environments never construct a Device.
type Device interface {
	Create() error
	Open() error
	Close() error

	Read(offset uint64, p []byte) error
	Write(offset uint64, p []byte) error
	Truncate(size uint64) error
	FileSize() (uint64, error)
	Flush() error

	// IsMapped reports whether page buffers should be served from a
	// memory map instead of heap buffers.
	IsMapped() bool

	// MapRegion maps [offset, offset+length) and returns the mapped
	// buffer. Only valid on a mapped device.
	MapRegion(offset uint64, length uint64) ([]byte, error)

	// UnmapRegion releases a buffer obtained from MapRegion.
	UnmapRegion(buf []byte) error
}

// FileDevice talks to a single database file with positional I/O.
type FileDevice struct {
	FilePath  string
	FileName  string
	OpenState int // 1 open, 2 closed

	file *os.File
}

const (
	stateOpen   = 1
	stateClosed = 2
)

func NewFileDevice(filePath string, fileName string) *FileDevice {
	dev := new(FileDevice)
	dev.FilePath = filePath
	dev.FileName = fileName
	dev.OpenState = stateClosed
	return dev
}

func (dev *FileDevice) fullPath() string {
	return path.Join(dev.FilePath, dev.FileName)
}

// Create creates the file, truncating an existing one.
func (dev *FileDevice) Create() error {
	f, err := os.OpenFile(dev.fullPath(), os.O_RDWR|os.O_CREATE|os.O_TRUNC, os.ModePerm)
	if err != nil {
		return errors.Annotatef(basic.ErrIOError, "create %s: %v", dev.fullPath(), err)
	}
	dev.file = f
	dev.OpenState = stateOpen
	return nil
}

// Open opens an existing file.
func (dev *FileDevice) Open() error {
	fileFlag, _ := util.PathExists(dev.fullPath())
	if !fileFlag {
		return errors.Annotatef(basic.ErrIOError, "open %s: no such file", dev.fullPath())
	}
	f, err := os.OpenFile(dev.fullPath(), os.O_RDWR, os.ModePerm)
	if err != nil {
		return errors.Annotatef(basic.ErrIOError, "open %s: %v", dev.fullPath(), err)
	}
	dev.file = f
	dev.OpenState = stateOpen
	return nil
}

func (dev *FileDevice) Close() error {
	if dev.OpenState == stateClosed {
		return nil
	}
	dev.OpenState = stateClosed
	if err := dev.file.Close(); err != nil {
		return errors.Annotatef(basic.ErrIOError, "close %s: %v", dev.fullPath(), err)
	}
	return nil
}

func (dev *FileDevice) Read(offset uint64, p []byte) error {
	n, err := dev.file.ReadAt(p, int64(offset))
	if err != nil && err != io.EOF {
		return errors.Annotatef(basic.ErrIOError, "read %d bytes at %d: %v", len(p), offset, err)
	}
	if n != len(p) {
		return errors.Annotatef(basic.ErrIOError, "short read at %d: %d of %d bytes", offset, n, len(p))
	}
	return nil
}

func (dev *FileDevice) Write(offset uint64, p []byte) error {
	n, err := dev.file.WriteAt(p, int64(offset))
	if err != nil {
		return errors.Annotatef(basic.ErrIOError, "write %d bytes at %d: %v", len(p), offset, err)
	}
	if n != len(p) {
		return errors.Annotatef(basic.ErrIOError, "short write at %d: %d of %d bytes", offset, n, len(p))
	}
	return nil
}

func (dev *FileDevice) Truncate(size uint64) error {
	if err := dev.file.Truncate(int64(size)); err != nil {
		return errors.Annotatef(basic.ErrIOError, "truncate to %d: %v", size, err)
	}
	return nil
}

func (dev *FileDevice) FileSize() (uint64, error) {
	info, err := dev.file.Stat()
	if err != nil {
		return 0, errors.Annotatef(basic.ErrIOError, "stat %s: %v", dev.fullPath(), err)
	}
	return uint64(info.Size()), nil
}

func (dev *FileDevice) Flush() error {
	if err := dev.file.Sync(); err != nil {
		return errors.Annotatef(basic.ErrIOError, "sync %s: %v", dev.fullPath(), err)
	}
	return nil
}

func (dev *FileDevice) IsMapped() bool {
	return false
}

func (dev *FileDevice) MapRegion(offset uint64, length uint64) ([]byte, error) {
	logger.Errorf("MapRegion called on an unmapped device (%s)", dev.fullPath())
	return nil, errors.Trace(basic.ErrInvalidParameter)
}

func (dev *FileDevice) UnmapRegion(buf []byte) error {
	return errors.Trace(basic.ErrInvalidParameter)
}
