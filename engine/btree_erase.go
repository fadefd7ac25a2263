package engine

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/util"
)

// adjustOnErase fixes coupled cursors after the slot at pos vanished:
// cursors on the slot become NIL, cursors to its right shift left.
func adjustOnErase(leaf node, pos int) {
	var dead []*btreeCursor
	for e := leaf.page.Cursors.Front(); e != nil; e = e.Next() {
		bc := e.Value.(*btreeCursor)
		if bc.index == pos {
			dead = append(dead, bc)
		} else if bc.index > pos {
			bc.index--
		}
	}
	for _, bc := range dead {
		bc.uncouple()
	}
}

// freeKeyResources releases the suffix blob of an extended key and
// purges its extended-key cache entry.
func (bt *BTree) freeKeyResources(leaf node, pos int) error {
	if leaf.entryFlags(pos)&basic.KeyFlagExtended == 0 {
		return nil
	}
	db := bt.db
	prefixLen := int(db.keySize) - int(basic.ExtendedKeyOffsetSize)
	blobID := util.ReadUB8Byte2Long(leaf.entryKeySlot(pos)[prefixLen:])
	if db.env.extCache != nil {
		// a miss just means the key was never materialized
		_ = db.env.extCache.Remove(blobID)
	}
	return errors.Trace(db.env.blobs.Free(blobID))
}

// freeRecordResources releases the record blob or the whole duplicate
// table of slot pos.
func (bt *BTree) freeRecordResources(leaf node, pos int) error {
	db := bt.db
	flags := leaf.entryFlags(pos)

	if flags&basic.KeyFlagDuplicates != 0 {
		tableID := leaf.entryPtr(pos)
		entries, err := db.dupeTableRead(tableID)
		if err != nil {
			return errors.Trace(err)
		}
		for i := range entries {
			if entries[i].flags&basic.KeyFlagBlobRecord != 0 {
				if err := db.env.blobs.Free(util.ReadUB8Byte2Long(entries[i].payload[:])); err != nil {
					return errors.Trace(err)
				}
			}
		}
		return errors.Trace(db.env.blobs.Free(tableID))
	}

	if flags&basic.KeyFlagBlobRecord != 0 {
		return errors.Trace(db.env.blobs.Free(leaf.entryPtr(pos)))
	}
	return nil
}

// removeEntry drops slot pos from the leaf, releasing everything the
// slot owns.
func (bt *BTree) removeEntry(txn *Txn, leaf node, pos int, freeRecords bool) error {
	if freeRecords {
		if err := bt.freeRecordResources(leaf, pos); err != nil {
			return errors.Trace(err)
		}
	}
	if err := bt.freeKeyResources(leaf, pos); err != nil {
		return errors.Trace(err)
	}
	leaf.shiftLeft(pos)
	adjustOnErase(leaf, pos)
	leaf.setCount(leaf.count() - 1)
	leaf.page.MarkDirty()
	return errors.Trace(bt.db.env.pm.Flush(txn, leaf.page, 0))
}

// Erase removes key from the tree. dupIndex selects one duplicate
// (1-based); 0 or EraseAllDuplicates removes the key with everything
// attached to it.
func (bt *BTree) Erase(txn *Txn, key []byte, dupIndex int, flags uint32) error {
	leaf, pos, err := bt.Find(txn, key)
	if err != nil {
		return errors.Trace(err)
	}

	entryFlags := leaf.entryFlags(pos)
	if entryFlags&basic.KeyFlagDuplicates != 0 && dupIndex > 0 && flags&basic.EraseAllDuplicates == 0 {
		return errors.Trace(bt.eraseDuplicate(txn, leaf, pos, dupIndex))
	}
	return errors.Trace(bt.removeEntry(txn, leaf, pos, true))
}

// eraseDuplicate removes one line of the slot's duplicate table,
// collapsing the table when a single duplicate remains.
func (bt *BTree) eraseDuplicate(txn *Txn, leaf node, pos int, dupIndex int) error {
	db := bt.db
	tableID := leaf.entryPtr(pos)

	newID, remaining, removed, err := db.dupeTableErase(tableID, dupIndex)
	if err != nil {
		return errors.Trace(err)
	}
	if removed.flags&basic.KeyFlagBlobRecord != 0 {
		if err := db.env.blobs.Free(util.ReadUB8Byte2Long(removed.payload[:])); err != nil {
			return errors.Trace(err)
		}
	}

	switch len(remaining) {
	case 0:
		// the table is gone already; only the key itself is left
		return errors.Trace(bt.removeEntry(txn, leaf, pos, false))
	case 1:
		if err := db.env.blobs.Free(newID); err != nil {
			return errors.Trace(err)
		}
		keyFlags := leaf.entryFlags(pos) & basic.KeyFlagExtended
		at := leaf.entryOffset(pos)
		copy(leaf.payload()[at:at+8], remaining[0].payload[:])
		leaf.setEntryRSize(pos, remaining[0].rsize)
		leaf.setEntryFlags(pos, keyFlags|remaining[0].flags)
	default:
		leaf.setEntryPtr(pos, newID)
	}

	leaf.page.MarkDirty()
	return errors.Trace(db.env.pm.Flush(txn, leaf.page, 0))
}

// overwriteDuplicate replaces the record of the dupIdx-th (1-based)
// duplicate of key without touching the key itself.
func (bt *BTree) overwriteDuplicate(txn *Txn, key []byte, dupIdx int, record []byte) error {
	db := bt.db
	leaf, pos, err := bt.Find(txn, key)
	if err != nil {
		return errors.Trace(err)
	}

	entryFlags := leaf.entryFlags(pos)
	if entryFlags&basic.KeyFlagDuplicates != 0 {
		tableID := leaf.entryPtr(pos)
		entries, err := db.dupeTableRead(tableID)
		if err != nil {
			return errors.Trace(err)
		}
		if dupIdx < 1 || dupIdx > len(entries) {
			return errors.Trace(basic.ErrKeyNotFound)
		}
		old := entries[dupIdx-1]
		if old.flags&basic.KeyFlagBlobRecord != 0 {
			if err := db.env.blobs.Free(util.ReadUB8Byte2Long(old.payload[:])); err != nil {
				return errors.Trace(err)
			}
		}
		fresh, err := db.makeDupeEntry(record)
		if err != nil {
			return errors.Trace(err)
		}
		entries[dupIdx-1] = fresh
		newID, err := db.env.blobs.Overwrite(tableID, dupeTableEncode(entries))
		if err != nil {
			return errors.Trace(err)
		}
		leaf.setEntryPtr(pos, newID)
	} else {
		if dupIdx != 1 {
			return errors.Trace(basic.ErrKeyNotFound)
		}
		if err := bt.freeRecordResources(leaf, pos); err != nil {
			return errors.Trace(err)
		}
		img, err := db.makeRecordRef(record)
		if err != nil {
			return errors.Trace(err)
		}
		keyFlags := leaf.entryFlags(pos) & basic.KeyFlagExtended
		at := leaf.entryOffset(pos)
		copy(leaf.payload()[at:at+8], img.ptrRaw[:])
		leaf.setEntryRSize(pos, img.rsize)
		leaf.setEntryFlags(pos, keyFlags|img.flags)
	}

	leaf.page.MarkDirty()
	return errors.Trace(db.env.pm.Flush(txn, leaf.page, 0))
}

// freeNodePage hands a tree page back to the paged file manager,
// releasing every blob its slots own; for leaves this is the path that
// purges the extended-key cache.
func (bt *BTree) freeNodePage(txn *Txn, n node) error {
	if n.isLeaf() {
		for i := 0; i < n.count(); i++ {
			if err := bt.freeRecordResources(n, i); err != nil {
				return errors.Trace(err)
			}
			if err := bt.freeKeyResources(n, i); err != nil {
				return errors.Trace(err)
			}
		}
	} else {
		for i := 0; i < n.count(); i++ {
			if n.entryFlags(i)&basic.KeyFlagExtended != 0 {
				prefixLen := int(bt.db.keySize) - int(basic.ExtendedKeyOffsetSize)
				blobID := util.ReadUB8Byte2Long(n.entryKeySlot(i)[prefixLen:])
				if bt.db.env.extCache != nil {
					_ = bt.db.env.extCache.Remove(blobID)
				}
				if err := bt.db.env.blobs.Free(blobID); err != nil {
					return errors.Trace(err)
				}
			}
		}
	}
	bt.db.env.pm.Free(txn, n.page, 0)
	return nil
}

// freeSubtree recursively frees the pages of a whole subtree; the
// environment's erase-database path runs it from the root.
func (bt *BTree) freeSubtree(txn *Txn, offset uint64) error {
	n, err := bt.fetchNode(txn, offset)
	if err != nil {
		return errors.Trace(err)
	}
	if !n.isLeaf() {
		if err := bt.freeSubtree(txn, n.ptrDown()); err != nil {
			return errors.Trace(err)
		}
		for i := 0; i < n.count(); i++ {
			if err := bt.freeSubtree(txn, n.entryPtr(i)); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return errors.Trace(bt.freeNodePage(txn, n))
}
