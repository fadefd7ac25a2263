package engine

import (
	"github.com/golang/snappy"
	"github.com/juju/errors"
	"github.com/pierrec/lz4/v4"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/util"
)

// Compression algorithm tags stored in front of a compressed record.
const (
	compressNone   uint8 = 0
	compressLZ4    uint8 = 1
	compressSnappy uint8 = 2
)

const compressHeaderSize = 5

// compressRecord wraps a record payload for the blob store:
// algo(1) rawLen(4) body. Incompressible payloads fall back to the raw
// form under the compressNone tag.
func (db *Database) compressRecord(record []byte) ([]byte, error) {
	algo := compressNone
	switch {
	case db.flags&basic.FlagRecordCompressionLZ4 != 0:
		algo = compressLZ4
	case db.flags&basic.FlagRecordCompressionSnappy != 0:
		algo = compressSnappy
	}

	var body []byte
	switch algo {
	case compressLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(record)))
		n, err := lz4.CompressBlock(record, dst, nil)
		if err != nil {
			return nil, errors.Annotatef(err, "lz4 compression")
		}
		if n == 0 || n >= len(record) {
			algo = compressNone
			body = record
		} else {
			body = dst[:n]
		}
	case compressSnappy:
		body = snappy.Encode(nil, record)
		if len(body) >= len(record) {
			algo = compressNone
			body = record
		}
	default:
		body = record
	}

	out := make([]byte, compressHeaderSize+len(body))
	out[0] = algo
	util.WriteUB4(out, 1, uint32(len(record)))
	copy(out[compressHeaderSize:], body)
	return out, nil
}

// decompressRecord unwraps a payload written by compressRecord.
func (db *Database) decompressRecord(data []byte) ([]byte, error) {
	if len(data) < compressHeaderSize {
		return nil, errors.Trace(basic.ErrBlobCorrupted)
	}
	algo := data[0]
	rawLen := int(util.ReadUB4Byte2UInt32(data[1:5]))
	body := data[compressHeaderSize:]

	switch algo {
	case compressNone:
		if len(body) != rawLen {
			return nil, errors.Trace(basic.ErrBlobCorrupted)
		}
		return body, nil
	case compressLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil || n != rawLen {
			return nil, errors.Annotatef(basic.ErrBlobCorrupted, "lz4: %v", err)
		}
		return out, nil
	case compressSnappy:
		out, err := snappy.Decode(nil, body)
		if err != nil || len(out) != rawLen {
			return nil, errors.Annotatef(basic.ErrBlobCorrupted, "snappy: %v", err)
		}
		return out, nil
	default:
		return nil, errors.Trace(basic.ErrBlobCorrupted)
	}
}

func (db *Database) compressionEnabled() bool {
	return db.flags&(basic.FlagRecordCompressionLZ4|basic.FlagRecordCompressionSnappy) != 0
}
