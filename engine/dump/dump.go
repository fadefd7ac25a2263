package dump

import (
	"io"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/util"
)

// Record tags of the export stream.
const (
	TagEnvironment uint8 = 1
	TagDatabase    uint8 = 2
	TagItem        uint8 = 3
)

// EnvironmentRecord opens a stream: the environment geometry needed to
// recreate it.
type EnvironmentRecord struct {
	Flags        uint32
	PageSize     uint32
	MaxDatabases uint32
}

// DatabaseRecord precedes the items of one database.
type DatabaseRecord struct {
	Name       uint16
	Flags      uint32
	KeySize    uint16
	KeyType    uint16
	RecordSize uint32
}

// ItemRecord is one key/record pair. Fingerprint is the xxhash of the
// key bytes, verified on load.
type ItemRecord struct {
	Key         []byte
	Record      []byte
	Fingerprint uint64
}

/**
导出流编解码。流是带长度前缀的标记记录序列: payloadLen(4) tag(1)
payload。字节序固定大端，字节串一律u32长度前缀。
**/
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (dw *Writer) writeRecord(tag uint8, payload []byte) error {
	head := make([]byte, 5)
	util.WriteUB4(head, 0, uint32(len(payload)))
	head[4] = tag
	if _, err := dw.w.Write(head); err != nil {
		return errors.Annotatef(basic.ErrIOError, "dump write: %v", err)
	}
	if _, err := dw.w.Write(payload); err != nil {
		return errors.Annotatef(basic.ErrIOError, "dump write: %v", err)
	}
	return nil
}

func (dw *Writer) WriteEnvironment(rec EnvironmentRecord) error {
	payload := make([]byte, 12)
	util.WriteUB4(payload, 0, rec.Flags)
	util.WriteUB4(payload, 4, rec.PageSize)
	util.WriteUB4(payload, 8, rec.MaxDatabases)
	return dw.writeRecord(TagEnvironment, payload)
}

func (dw *Writer) WriteDatabase(rec DatabaseRecord) error {
	payload := make([]byte, 14)
	util.WriteUB2(payload, 0, rec.Name)
	util.WriteUB4(payload, 2, rec.Flags)
	util.WriteUB2(payload, 6, rec.KeySize)
	util.WriteUB2(payload, 8, rec.KeyType)
	util.WriteUB4(payload, 10, rec.RecordSize)
	return dw.writeRecord(TagDatabase, payload)
}

func (dw *Writer) WriteItem(key []byte, record []byte) error {
	payload := make([]byte, 4+len(key)+4+len(record)+8)
	at := util.WriteUB4(payload, 0, uint32(len(key)))
	copy(payload[at:], key)
	at += len(key)
	at = util.WriteUB4(payload, at, uint32(len(record)))
	copy(payload[at:], record)
	at += len(record)
	util.WriteUB8(payload, at, util.HashCode(key))
	return dw.writeRecord(TagItem, payload)
}

// Reader decodes an export stream record by record.
type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next record's tag and decoded value: one of
// EnvironmentRecord, DatabaseRecord, ItemRecord. io.EOF ends the
// stream.
func (dr *Reader) Next() (uint8, interface{}, error) {
	head := make([]byte, 5)
	if _, err := io.ReadFull(dr.r, head); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, errors.Annotatef(basic.ErrIOError, "dump read: %v", err)
	}
	length := util.ReadUB4Byte2UInt32(head[0:4])
	tag := head[4]
	payload := make([]byte, length)
	if _, err := io.ReadFull(dr.r, payload); err != nil {
		return 0, nil, errors.Annotatef(basic.ErrIOError, "dump read: %v", err)
	}

	switch tag {
	case TagEnvironment:
		if len(payload) < 12 {
			return 0, nil, errors.Trace(basic.ErrEnvCorrupted)
		}
		return tag, EnvironmentRecord{
			Flags:        util.ReadUB4Byte2UInt32(payload[0:4]),
			PageSize:     util.ReadUB4Byte2UInt32(payload[4:8]),
			MaxDatabases: util.ReadUB4Byte2UInt32(payload[8:12]),
		}, nil
	case TagDatabase:
		if len(payload) < 14 {
			return 0, nil, errors.Trace(basic.ErrEnvCorrupted)
		}
		return tag, DatabaseRecord{
			Name:       util.ReadUB2Byte2Int(payload[0:2]),
			Flags:      util.ReadUB4Byte2UInt32(payload[2:6]),
			KeySize:    util.ReadUB2Byte2Int(payload[6:8]),
			KeyType:    util.ReadUB2Byte2Int(payload[8:10]),
			RecordSize: util.ReadUB4Byte2UInt32(payload[10:14]),
		}, nil
	case TagItem:
		item, err := decodeItem(payload)
		if err != nil {
			return 0, nil, errors.Trace(err)
		}
		return tag, item, nil
	default:
		return 0, nil, errors.Annotatef(basic.ErrInvalidParameter, "unknown dump tag %d", tag)
	}
}

func decodeItem(payload []byte) (ItemRecord, error) {
	var item ItemRecord
	if len(payload) < 4 {
		return item, errors.Trace(basic.ErrEnvCorrupted)
	}
	keyLen := int(util.ReadUB4Byte2UInt32(payload[0:4]))
	at := 4
	if len(payload) < at+keyLen+4 {
		return item, errors.Trace(basic.ErrEnvCorrupted)
	}
	item.Key = util.CopyBytes(payload[at : at+keyLen])
	at += keyLen
	recLen := int(util.ReadUB4Byte2UInt32(payload[at : at+4]))
	at += 4
	if len(payload) < at+recLen+8 {
		return item, errors.Trace(basic.ErrEnvCorrupted)
	}
	item.Record = util.CopyBytes(payload[at : at+recLen])
	at += recLen
	item.Fingerprint = util.ReadUB8Byte2Long(payload[at : at+8])

	if util.HashCode(item.Key) != item.Fingerprint {
		return item, errors.Annotate(basic.ErrEnvCorrupted, "item fingerprint mismatch")
	}
	return item, nil
}
