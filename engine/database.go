package engine

import (
	"container/list"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/buffer"
	"github.com/zhukovaskychina/xkv-engine/engine/compare"
	"github.com/zhukovaskychina/xkv-engine/logger"
	"github.com/zhukovaskychina/xkv-engine/util"
)

// DBConfig carries per-database tunables; zero values fall back to the
// defaults (or to the key type's mandatory width).
type DBConfig struct {
	KeySize    uint16
	KeyType    basic.KeyType
	RecordSize uint32 // 0 = variable length
}

/**
数据库。一个环境里可以有多个按数字命名的数据库，各自一棵B+树、一套
比较器和一棵op树。记录经makeRecordRef落成内联值或blob，按库标志可选
lz4/snappy压缩。
**/
type Database struct {
	env  *Environment
	name uint16
	slot int

	flags      uint32
	keySize    uint16
	keyType    basic.KeyType
	recordSize uint32

	bt     *BTree
	cmp    *compare.Comparator
	txnIdx *txnIndex

	// cursors is the database's global cursor list.
	cursors *list.List

	closed bool
}

// CreateDB creates a named database inside the environment.
func (env *Environment) CreateDB(name uint16, flags uint32, cfg *DBConfig) (*Database, error) {
	if name == 0 {
		return nil, errors.Annotate(basic.ErrInvalidParameter, "database name 0 is reserved")
	}
	found, free := env.findDBSlot(name)
	if found >= 0 || env.openDB(name) != nil {
		return nil, errors.Trace(basic.ErrDatabaseAlreadyOpen)
	}
	if free < 0 {
		return nil, errors.Trace(basic.ErrDatabaseLimitReached)
	}

	resolved := DBConfig{}
	if cfg != nil {
		resolved = *cfg
	}
	if fixed := compare.FixedKeySizeForType(resolved.KeyType); fixed != 0 {
		resolved.KeySize = fixed
	}
	if resolved.KeySize == 0 {
		resolved.KeySize = basic.DefaultKeySize
	}
	if flags&basic.FlagRecordCompressionLZ4 != 0 && flags&basic.FlagRecordCompressionSnappy != 0 {
		return nil, errors.Annotate(basic.ErrInvalidParameter, "conflicting record compression flags")
	}

	env.writeDBSlot(free, name, flags, resolved.KeySize, resolved.KeyType, resolved.RecordSize, 0)
	if err := env.writeHeader(); err != nil {
		return nil, errors.Trace(err)
	}
	db := env.buildDatabase(free, name, flags, resolved.KeySize, resolved.KeyType, resolved.RecordSize, 0)
	env.databases[free] = db
	logger.Debugf("database %d created (key_size=%d key_type=%d)", name, resolved.KeySize, resolved.KeyType)
	return db, nil
}

// OpenDB opens a database recorded in the environment header.
func (env *Environment) OpenDB(name uint16) (*Database, error) {
	if env.openDB(name) != nil {
		return nil, errors.Trace(basic.ErrDatabaseAlreadyOpen)
	}
	found, _ := env.findDBSlot(name)
	if found < 0 {
		return nil, errors.Trace(basic.ErrDatabaseNotFound)
	}
	_, dbFlags, keySize, keyType, recordSize, root := env.readDBSlot(found)
	db := env.buildDatabase(found, name, dbFlags, keySize, keyType, recordSize, root)
	env.databases[found] = db
	return db, nil
}

func (env *Environment) openDB(name uint16) *Database {
	for _, db := range env.databases {
		if db != nil && db.name == name {
			return db
		}
	}
	return nil
}

func (env *Environment) buildDatabase(slot int, name uint16, flags uint32, keySize uint16, keyType basic.KeyType, recordSize uint32, root uint64) *Database {
	db := &Database{
		env:        env,
		name:       name,
		slot:       slot,
		flags:      flags,
		keySize:    keySize,
		keyType:    keyType,
		recordSize: recordSize,
		cursors:    list.New(),
	}
	db.cmp = compare.NewComparator(keySize, env.extCache, env.blobs)
	db.cmp.Full = compare.FullCompareForKeyType(keyType)
	db.bt = NewBTree(db)
	db.txnIdx = newTxnIndex(db)
	return db
}

// EraseDatabase deletes a database and everything it owns: tree pages
// (purging their extended keys), record blobs and the header slot.
func (env *Environment) EraseDatabase(name uint16) error {
	if env.openDB(name) != nil {
		return errors.Trace(basic.ErrDatabaseAlreadyOpen)
	}
	found, _ := env.findDBSlot(name)
	if found < 0 {
		return errors.Trace(basic.ErrDatabaseNotFound)
	}
	_, dbFlags, keySize, keyType, recordSize, root := env.readDBSlot(found)
	db := env.buildDatabase(found, name, dbFlags, keySize, keyType, recordSize, root)
	if root != 0 {
		if err := db.bt.freeSubtree(nil, root); err != nil {
			return errors.Trace(err)
		}
		if err := env.pm.FlushAll(nil, 0); err != nil {
			return errors.Trace(err)
		}
	}
	env.writeDBSlot(found, 0, 0, 0, 0, 0, 0)
	return errors.Trace(env.writeHeader())
}

// SetCompareFunc installs a user full-compare; the database should run
// with KeyTypeCustom.
func (db *Database) SetCompareFunc(fn compare.FullCompareFunc) {
	db.cmp.Full = fn
}

// SetPrefixCompareFunc installs a user prefix-compare.
func (db *Database) SetPrefixCompareFunc(fn compare.PrefixCompareFunc) {
	db.cmp.Prefix = fn
}

func (db *Database) Name() uint16 {
	return db.name
}

func (db *Database) Flags() uint32 {
	return db.flags
}

func (db *Database) KeySize() uint16 {
	return db.keySize
}

func (db *Database) KeyType() basic.KeyType {
	return db.keyType
}

func (db *Database) RecordSize() uint32 {
	return db.recordSize
}

func (db *Database) rootOffset() uint64 {
	_, _, _, _, _, root := db.env.readDBSlot(db.slot)
	return root
}

// setRootOffset records the new tree root in the header's database
// table; writeHeader is a no-op for in-memory environments.
func (db *Database) setRootOffset(root uint64) error {
	env := db.env
	name, flags, keySize, keyType, recordSize, _ := env.readDBSlot(db.slot)
	env.writeDBSlot(db.slot, name, flags, keySize, keyType, recordSize, root)
	return errors.Trace(env.writeHeader())
}

// fetchPage routes page access through the right path: the paged file
// manager for file environments, the resident cache for in-memory ones.
func (db *Database) fetchPage(txn *Txn, offset uint64) (*buffer.Page, error) {
	if db.env.flags&basic.FlagInMemoryDB != 0 {
		if txn != nil {
			if page := txn.GetPage(offset); page != nil {
				return page, nil
			}
		}
		page := db.env.cache.Get(offset)
		if page == nil {
			// in-memory pages never leave the cache
			panic("xkv: in-memory page missing from the cache")
		}
		return page, nil
	}
	return db.env.pm.Fetch(txn, offset, 0)
}

// makeRecordRef prepares the leaf representation of a record: inlined
// into the slot's pointer field when small, otherwise a blob.
func (db *Database) makeRecordRef(record []byte) (entryImage, error) {
	var img entryImage
	if db.recordSize != 0 && uint32(len(record)) != db.recordSize {
		return img, errors.Annotatef(basic.ErrInvalidParameter, "record size %d, database fixes %d", len(record), db.recordSize)
	}

	if len(record) <= maxInlineRecord && !db.compressionEnabled() {
		img.rsize = uint16(len(record))
		copy(img.ptrRaw[:], record)
		return img, nil
	}

	payload := record
	if db.compressionEnabled() {
		compressed, err := db.compressRecord(record)
		if err != nil {
			return img, errors.Trace(err)
		}
		payload = compressed
	}
	blobID, err := db.env.blobs.Allocate(payload)
	if err != nil {
		return img, errors.Trace(err)
	}
	img.flags = basic.KeyFlagBlobRecord
	img.rsize = 0
	util.WriteUB8(img.ptrRaw[:], 0, blobID)
	return img, nil
}

func (db *Database) makeDupeEntry(record []byte) (dupeEntry, error) {
	img, err := db.makeRecordRef(record)
	if err != nil {
		return dupeEntry{}, errors.Trace(err)
	}
	return dupeEntry{flags: img.flags, rsize: img.rsize, payload: img.ptrRaw}, nil
}

// readRecordRef resolves a slot's record reference to its bytes.
func (db *Database) readRecordRef(flags uint8, rsize uint16, ptrRaw []byte) ([]byte, error) {
	if flags&basic.KeyFlagBlobRecord == 0 {
		return util.CopyBytes(ptrRaw[:rsize]), nil
	}
	payload, err := db.env.blobs.ReadBlob(util.ReadUB8Byte2Long(ptrRaw))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if db.compressionEnabled() {
		return db.decompressRecord(payload)
	}
	return payload, nil
}

// readBtreeRecord reads the dupIdx-th (1-based) record of a leaf slot.
func (db *Database) readBtreeRecord(leaf node, pos int, dupIdx int) ([]byte, error) {
	flags := leaf.entryFlags(pos)
	if flags&basic.KeyFlagDuplicates != 0 {
		entries, err := db.dupeTableRead(leaf.entryPtr(pos))
		if err != nil {
			return nil, errors.Trace(err)
		}
		if dupIdx < 1 || dupIdx > len(entries) {
			return nil, errors.Trace(basic.ErrKeyNotFound)
		}
		e := entries[dupIdx-1]
		return db.readRecordRef(e.flags, e.rsize, e.payload[:])
	}
	if dupIdx != 1 {
		return nil, errors.Trace(basic.ErrKeyNotFound)
	}
	return db.readRecordRef(flags, leaf.entryRSize(pos), leaf.entryPtrRaw(pos))
}

// btreeDupeCount counts the duplicates a leaf slot holds.
func (db *Database) btreeDupeCount(leaf node, pos int) (int, error) {
	if leaf.entryFlags(pos)&basic.KeyFlagDuplicates == 0 {
		return 1, nil
	}
	entries, err := db.dupeTableRead(leaf.entryPtr(pos))
	if err != nil {
		return 0, errors.Trace(err)
	}
	return len(entries), nil
}

// Insert stores (key, record). Within a transaction the mutation only
// enters the op tree; the B+tree changes at commit.
func (db *Database) Insert(txn *Txn, key []byte, record []byte, flags uint32) error {
	if db.closed {
		return errors.Trace(basic.ErrInvalidParameter)
	}
	if flags&basic.InsertDuplicate != 0 && db.flags&basic.FlagEnableDuplicates == 0 {
		return errors.Trace(basic.ErrInvalidParameter)
	}

	if txn == nil {
		return errors.Trace(db.bt.Insert(nil, key, record, flags))
	}

	merged, _, err := db.mergeDuplicates(txn, key)
	if err != nil {
		return errors.Trace(err)
	}
	switch {
	case flags&basic.InsertOverwrite != 0:
		_, err = txn.addOp(db, key, txnOpOverwrite, record, 0)
	case flags&basic.InsertDuplicate != 0:
		_, err = txn.addOp(db, key, txnOpInsertDup, record, 0)
	default:
		if len(merged) > 0 {
			return errors.Trace(basic.ErrDuplicateKey)
		}
		_, err = txn.addOp(db, key, txnOpInsert, record, 0)
	}
	return errors.Trace(err)
}

// Find returns the (first) record stored under key.
func (db *Database) Find(txn *Txn, key []byte) ([]byte, error) {
	if db.closed {
		return nil, errors.Trace(basic.ErrInvalidParameter)
	}

	if txn == nil {
		leaf, pos, err := db.bt.Find(nil, key)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return db.readBtreeRecord(leaf, pos, 1)
	}

	merged, btreeHad, err := db.mergeDuplicates(txn, key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(merged) == 0 {
		if btreeHad {
			return nil, errors.Trace(basic.ErrKeyErasedInTxn)
		}
		return nil, errors.Trace(basic.ErrKeyNotFound)
	}
	return db.readDupeLine(txn, key, merged[0])
}

// Erase removes key (with every duplicate).
func (db *Database) Erase(txn *Txn, key []byte) error {
	if db.closed {
		return errors.Trace(basic.ErrInvalidParameter)
	}

	if txn == nil {
		return errors.Trace(db.bt.Erase(nil, key, 0, basic.EraseAllDuplicates))
	}

	merged, _, err := db.mergeDuplicates(txn, key)
	if err != nil {
		return errors.Trace(err)
	}
	if len(merged) == 0 {
		return errors.Trace(basic.ErrKeyNotFound)
	}
	_, err = txn.addOp(db, key, txnOpErase, nil, 0)
	return errors.Trace(err)
}

// Close shuts the database down, closing its cursors first.
func (db *Database) Close() error {
	if db.closed {
		return nil
	}
	for db.cursors.Len() > 0 {
		cursor := db.cursors.Front().Value.(*Cursor)
		cursor.Close()
	}
	db.closed = true
	if db.env.databases[db.slot] == db {
		db.env.databases[db.slot] = nil
	}
	return nil
}
