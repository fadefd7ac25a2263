package device

import (
	"github.com/edsrzf/mmap-go"
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
)

// MmapDevice serves page buffers from per-region memory maps. Writes
// still go through positional file I/O; on POSIX the shared mappings and
// the file stay coherent.
type MmapDevice struct {
	FileDevice
}

func NewMmapDevice(filePath string, fileName string) *MmapDevice {
	dev := new(MmapDevice)
	dev.FilePath = filePath
	dev.FileName = fileName
	dev.OpenState = stateClosed
	return dev
}

func (dev *MmapDevice) IsMapped() bool {
	return true
}

// MapRegion maps one page-aligned region of the file.
func (dev *MmapDevice) MapRegion(offset uint64, length uint64) ([]byte, error) {
	m, err := mmap.MapRegion(dev.file, int(length), mmap.RDWR, 0, int64(offset))
	if err != nil {
		return nil, errors.Annotatef(basic.ErrIOError, "mmap %d bytes at %d: %v", length, offset, err)
	}
	return m, nil
}

func (dev *MmapDevice) UnmapRegion(buf []byte) error {
	m := mmap.MMap(buf)
	if err := m.Unmap(); err != nil {
		return errors.Annotatef(basic.ErrIOError, "munmap: %v", err)
	}
	return nil
}
