package engine

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/util"
)

// dupeEntry is one line of an on-blob duplicate table.
type dupeEntry struct {
	flags   uint8
	rsize   uint16
	payload [8]byte
}

const dupeEntrySize = 11

// dupeTableEncode lays a duplicate table out as a blob payload:
// count(4) entries(count*11).
func dupeTableEncode(entries []dupeEntry) []byte {
	buf := make([]byte, 4+len(entries)*dupeEntrySize)
	util.WriteUB4(buf, 0, uint32(len(entries)))
	at := 4
	for i := range entries {
		buf[at] = entries[i].flags
		util.WriteUB2(buf, at+1, entries[i].rsize)
		copy(buf[at+3:at+11], entries[i].payload[:])
		at += dupeEntrySize
	}
	return buf
}

func dupeTableDecode(buf []byte) ([]dupeEntry, error) {
	if len(buf) < 4 {
		return nil, errors.Trace(basic.ErrBlobCorrupted)
	}
	count := int(util.ReadUB4Byte2UInt32(buf[0:4]))
	if len(buf) < 4+count*dupeEntrySize {
		return nil, errors.Trace(basic.ErrBlobCorrupted)
	}
	entries := make([]dupeEntry, count)
	at := 4
	for i := 0; i < count; i++ {
		entries[i].flags = buf[at]
		entries[i].rsize = util.ReadUB2Byte2Int(buf[at+1 : at+3])
		copy(entries[i].payload[:], buf[at+3:at+11])
		at += dupeEntrySize
	}
	return entries, nil
}

// dupeTableCreate stores a fresh duplicate table and returns its blob
// offset.
func (db *Database) dupeTableCreate(entries []dupeEntry) (uint64, error) {
	id, err := db.env.blobs.Allocate(dupeTableEncode(entries))
	if err != nil {
		return 0, errors.Trace(err)
	}
	return id, nil
}

// dupeTableRead loads a duplicate table.
func (db *Database) dupeTableRead(tableID uint64) ([]dupeEntry, error) {
	buf, err := db.env.blobs.ReadBlob(tableID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return dupeTableDecode(buf)
}

// dupeTableAppend adds one entry at the end of the table and returns
// the table's (possibly relocated) blob offset.
func (db *Database) dupeTableAppend(tableID uint64, entry dupeEntry) (uint64, error) {
	entries, err := db.dupeTableRead(tableID)
	if err != nil {
		return 0, errors.Trace(err)
	}
	entries = append(entries, entry)
	newID, err := db.env.blobs.Overwrite(tableID, dupeTableEncode(entries))
	if err != nil {
		return 0, errors.Trace(err)
	}
	return newID, nil
}

// dupeTableErase removes the 1-based index from the table. It returns
// the new table offset, the remaining entries and the removed entry so
// the caller can release its blob.
func (db *Database) dupeTableErase(tableID uint64, index int) (uint64, []dupeEntry, dupeEntry, error) {
	entries, err := db.dupeTableRead(tableID)
	if err != nil {
		return 0, nil, dupeEntry{}, errors.Trace(err)
	}
	if index < 1 || index > len(entries) {
		return 0, nil, dupeEntry{}, errors.Trace(basic.ErrKeyNotFound)
	}
	removed := entries[index-1]
	entries = append(entries[:index-1], entries[index:]...)

	if len(entries) == 0 {
		if err := db.env.blobs.Free(tableID); err != nil {
			return 0, nil, dupeEntry{}, errors.Trace(err)
		}
		return 0, entries, removed, nil
	}
	newID, err := db.env.blobs.Overwrite(tableID, dupeTableEncode(entries))
	if err != nil {
		return 0, nil, dupeEntry{}, errors.Trace(err)
	}
	return newID, entries, removed, nil
}
