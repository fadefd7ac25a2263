package engine

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/device"
	"github.com/zhukovaskychina/xkv-engine/engine/freelist"
	"github.com/zhukovaskychina/xkv-engine/util"
)

// blobMagic tags every on-disk blob header ("XBLB").
const blobMagic uint32 = 0x58424C42

const blobHeaderSize = 24

/**
Blob存储。溢出的记录和扩展键后缀放在这里：磁盘上是一段页对齐的连续
区域，头部记录实际长度和分配长度，释放时整段还给freelist。blob绕过
页缓存，直接走设备的定位读写。in-memory环境下blob就是arena里的一份
拷贝，偏移是合成的句柄。
**/
type BlobStore struct {
	dev      device.Device
	fl       *freelist.Freelist
	pageSize uint32

	inMemory  bool
	arena     map[uint64][]byte
	arenaNext uint64
}

func NewBlobStore(dev device.Device, fl *freelist.Freelist, pageSize uint32, envFlags uint32) *BlobStore {
	bs := &BlobStore{
		dev:      dev,
		fl:       fl,
		pageSize: pageSize,
		inMemory: envFlags&basic.FlagInMemoryDB != 0,
	}
	if bs.inMemory {
		bs.arena = make(map[uint64][]byte)
		bs.arenaNext = 1
	}
	return bs
}

// Allocate stores data and returns the blob's offset.
func (bs *BlobStore) Allocate(data []byte) (uint64, error) {
	if bs.inMemory {
		id := bs.arenaNext
		bs.arenaNext++
		bs.arena[id] = util.CopyBytes(data)
		return id, nil
	}

	need := uint64(blobHeaderSize + len(data))
	allocSize := roundUpUint64(need, uint64(bs.pageSize))

	offset := bs.fl.AllocArea(need, bs.pageSize)
	if offset == 0 {
		fileSize, err := bs.dev.FileSize()
		if err != nil {
			return 0, errors.Trace(err)
		}
		if err := bs.dev.Truncate(fileSize + allocSize); err != nil {
			return 0, errors.Trace(err)
		}
		offset = fileSize
	}

	if err := bs.writeBlob(offset, allocSize, data); err != nil {
		return 0, errors.Trace(err)
	}
	return offset, nil
}

func (bs *BlobStore) writeBlob(offset uint64, allocSize uint64, data []byte) error {
	buf := make([]byte, blobHeaderSize+len(data))
	util.WriteUB4(buf, 0, blobMagic)
	util.WriteUB4(buf, 4, 0)
	util.WriteUB8(buf, 8, uint64(len(data)))
	util.WriteUB8(buf, 16, allocSize)
	copy(buf[blobHeaderSize:], data)
	if err := bs.dev.Write(offset, buf); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (bs *BlobStore) readHeader(offset uint64) (size uint64, allocSize uint64, err error) {
	header := make([]byte, blobHeaderSize)
	if err := bs.dev.Read(offset, header); err != nil {
		return 0, 0, errors.Trace(err)
	}
	if util.ReadUB4Byte2UInt32(header[0:4]) != blobMagic {
		return 0, 0, errors.Annotatef(basic.ErrBlobCorrupted, "offset %d", offset)
	}
	size = util.ReadUB8Byte2Long(header[8:16])
	allocSize = util.ReadUB8Byte2Long(header[16:24])
	return size, allocSize, nil
}

// ReadBlob returns the blob's payload. Implements compare.BlobReader.
func (bs *BlobStore) ReadBlob(offset uint64) ([]byte, error) {
	if bs.inMemory {
		data, ok := bs.arena[offset]
		if !ok {
			return nil, errors.Trace(basic.ErrKeyNotFound)
		}
		return data, nil
	}

	size, _, err := bs.readHeader(offset)
	if err != nil {
		return nil, errors.Trace(err)
	}
	data := make([]byte, size)
	if err := bs.dev.Read(offset+blobHeaderSize, data); err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}

// Overwrite replaces the blob's payload, in place when it still fits
// the allocated area, otherwise by reallocating. Returns the blob's
// (possibly new) offset.
func (bs *BlobStore) Overwrite(offset uint64, data []byte) (uint64, error) {
	if bs.inMemory {
		if _, ok := bs.arena[offset]; !ok {
			return 0, errors.Trace(basic.ErrKeyNotFound)
		}
		bs.arena[offset] = util.CopyBytes(data)
		return offset, nil
	}

	_, allocSize, err := bs.readHeader(offset)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if uint64(blobHeaderSize+len(data)) <= allocSize {
		if err := bs.writeBlob(offset, allocSize, data); err != nil {
			return 0, errors.Trace(err)
		}
		return offset, nil
	}

	if err := bs.Free(offset); err != nil {
		return 0, errors.Trace(err)
	}
	newOffset, err := bs.Allocate(data)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return newOffset, nil
}

// Free returns the blob's area to the freelist.
func (bs *BlobStore) Free(offset uint64) error {
	if bs.inMemory {
		delete(bs.arena, offset)
		return nil
	}

	_, allocSize, err := bs.readHeader(offset)
	if err != nil {
		return errors.Trace(err)
	}
	bs.fl.AddArea(offset, allocSize)
	return nil
}

func roundUpUint64(v uint64, align uint64) uint64 {
	if v%align == 0 {
		return v
	}
	return (v/align + 1) * align
}
