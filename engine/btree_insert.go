package engine

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/buffer"
	"github.com/zhukovaskychina/xkv-engine/engine/compare"
	"github.com/zhukovaskychina/xkv-engine/util"
)

// makeKeySlot prepares the in-node form of key: the key itself while it
// fits, otherwise keySize-8 prefix bytes plus the offset of a freshly
// allocated suffix blob.
func (bt *BTree) makeKeySlot(key []byte) ([]byte, uint16, uint8, error) {
	keySize := int(bt.db.keySize)
	if len(key) <= keySize {
		return key, uint16(len(key)), 0, nil
	}

	prefixLen := keySize - int(basic.ExtendedKeyOffsetSize)
	suffix := key[prefixLen:]
	blobID, err := bt.db.env.blobs.Allocate(suffix)
	if err != nil {
		return nil, 0, 0, errors.Trace(err)
	}
	slot := make([]byte, keySize)
	copy(slot, key[:prefixLen])
	util.WriteUB8(slot, prefixLen, blobID)
	return slot, uint16(len(key)), basic.KeyFlagExtended, nil
}

// adjustOnInsert shifts coupled cursors right of the new slot.
func adjustOnInsert(leaf node, pos int) {
	for e := leaf.page.Cursors.Front(); e != nil; e = e.Next() {
		bc := e.Value.(*btreeCursor)
		if bc.index >= pos {
			bc.index++
		}
	}
}

// adjustOnSplit re-couples cursors that moved to the new right node.
func adjustOnSplit(old node, fresh node, mid int) {
	var moved []*btreeCursor
	for e := old.page.Cursors.Front(); e != nil; e = e.Next() {
		bc := e.Value.(*btreeCursor)
		if bc.index >= mid {
			moved = append(moved, bc)
		}
	}
	for _, bc := range moved {
		idx := bc.index - mid
		bc.couple(fresh.page, idx)
	}
}

// Insert adds (key, record) to the tree. flags take InsertOverwrite and
// InsertDuplicate.
func (bt *BTree) Insert(txn *Txn, key []byte, record []byte, flags uint32) error {
	db := bt.db

	if db.rootOffset() == 0 {
		page, err := db.env.pm.Alloc(basic.PageTypeBRoot, txn, 0)
		if err != nil {
			return errors.Trace(err)
		}
		page.OwnerDB = db.name
		root := node{bt: bt, page: page}
		root.setLeaf(true)
		root.setCount(0)
		root.setLeft(0)
		root.setRight(0)
		root.setPtrDown(0)
		page.MarkDirty()
		if err := db.setRootOffset(page.Self); err != nil {
			return errors.Trace(err)
		}
		if err := db.env.pm.Flush(txn, page, 0); err != nil {
			return errors.Trace(err)
		}
	}

	// every node on the descent stays pinned until the insert is done,
	// so a fetch further down cannot evict it
	var pinned []*buffer.Page
	defer func() {
		for _, page := range pinned {
			page.Unpin()
		}
	}()
	pin := func(page *buffer.Page) {
		page.Pin()
		pinned = append(pinned, page)
	}

	n, err := bt.fetchNode(txn, db.rootOffset())
	if err != nil {
		return errors.Trace(err)
	}
	pin(n.page)
	if n.count() == bt.maxKeys() {
		if err := bt.splitRoot(txn); err != nil {
			return errors.Trace(err)
		}
		n, err = bt.fetchNode(txn, db.rootOffset())
		if err != nil {
			return errors.Trace(err)
		}
		pin(n.page)
	}

	for !n.isLeaf() {
		childOffset, err := n.childFor(key)
		if err != nil {
			return errors.Trace(err)
		}
		child, err := bt.fetchNode(txn, childOffset)
		if err != nil {
			return errors.Trace(err)
		}
		pin(child.page)
		if child.count() == bt.maxKeys() {
			// split preemptively; the parent is guaranteed to have room
			if err := bt.splitChild(txn, n, child); err != nil {
				return errors.Trace(err)
			}
			continue
		}
		n = child
	}

	pos, exact, err := n.search(key)
	if err != nil {
		return errors.Trace(err)
	}
	if exact {
		return bt.insertExisting(txn, n, pos, record, flags)
	}

	img, err := db.makeRecordRef(record)
	if err != nil {
		return errors.Trace(err)
	}
	slot, ksize, keyFlags, err := bt.makeKeySlot(key)
	if err != nil {
		return errors.Trace(err)
	}

	n.shiftRight(pos)
	adjustOnInsert(n, pos)
	n.writeEntry(pos, slot, ksize, keyFlags, img)
	n.setCount(n.count() + 1)
	n.page.MarkDirty()
	if err := db.env.pm.Flush(txn, n.page, 0); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// insertExisting handles an insert that hit an existing key: overwrite,
// duplicate append, or ErrDuplicateKey.
func (bt *BTree) insertExisting(txn *Txn, leaf node, pos int, record []byte, flags uint32) error {
	db := bt.db

	switch {
	case flags&basic.InsertOverwrite != 0:
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

	case flags&basic.InsertDuplicate != 0:
		if db.flags&basic.FlagEnableDuplicates == 0 {
			return errors.Trace(basic.ErrInvalidParameter)
		}
		newEntry, err := db.makeDupeEntry(record)
		if err != nil {
			return errors.Trace(err)
		}
		entryFlags := leaf.entryFlags(pos)
		if entryFlags&basic.KeyFlagDuplicates != 0 {
			tableID, err := db.dupeTableAppend(leaf.entryPtr(pos), newEntry)
			if err != nil {
				return errors.Trace(err)
			}
			leaf.setEntryPtr(pos, tableID)
		} else {
			var existing dupeEntry
			existing.flags = entryFlags & basic.KeyFlagBlobRecord
			existing.rsize = leaf.entryRSize(pos)
			copy(existing.payload[:], leaf.entryPtrRaw(pos))

			tableID, err := db.dupeTableCreate([]dupeEntry{existing, newEntry})
			if err != nil {
				return errors.Trace(err)
			}
			leaf.setEntryPtr(pos, tableID)
			leaf.setEntryRSize(pos, 0)
			keyFlags := entryFlags & basic.KeyFlagExtended
			leaf.setEntryFlags(pos, keyFlags|basic.KeyFlagDuplicates)
		}

	default:
		return errors.Trace(basic.ErrDuplicateKey)
	}

	leaf.page.MarkDirty()
	if err := db.env.pm.Flush(txn, leaf.page, 0); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// splitRoot grows the tree by one level.
func (bt *BTree) splitRoot(txn *Txn) error {
	db := bt.db
	oldRoot, err := bt.fetchNode(txn, db.rootOffset())
	if err != nil {
		return errors.Trace(err)
	}

	page, err := db.env.pm.Alloc(basic.PageTypeBRoot, txn, 0)
	if err != nil {
		return errors.Trace(err)
	}
	page.OwnerDB = db.name
	page.Pin()
	defer page.Unpin()
	newRoot := node{bt: bt, page: page}
	newRoot.setLeaf(false)
	newRoot.setCount(0)
	newRoot.setLeft(0)
	newRoot.setRight(0)
	newRoot.setPtrDown(oldRoot.page.Self)
	page.MarkDirty()

	oldRoot.page.Type = basic.PageTypeBIndex
	oldRoot.page.WriteHeader()
	oldRoot.page.MarkDirty()

	if err := bt.splitChild(txn, newRoot, oldRoot); err != nil {
		return errors.Trace(err)
	}
	if err := db.setRootOffset(page.Self); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(db.env.pm.Flush(txn, page, 0))
}

// splitChild moves the upper half of child into a fresh right sibling
// and hangs the separator into parent, which must have room.
func (bt *BTree) splitChild(txn *Txn, parent node, child node) error {
	db := bt.db
	stride := bt.stride()

	page, err := db.env.pm.Alloc(basic.PageTypeBIndex, txn, 0)
	if err != nil {
		return errors.Trace(err)
	}
	page.OwnerDB = db.name
	page.Pin()
	defer page.Unpin()
	fresh := node{bt: bt, page: page}
	fresh.setLeaf(child.isLeaf())
	fresh.setCount(0)
	fresh.setLeft(0)
	fresh.setRight(0)
	fresh.setPtrDown(0)

	count := child.count()
	mid := count / 2

	// separator slot image: key bytes, ksize, flags, without a record
	sepSlot := make([]byte, stride)

	if child.isLeaf() {
		for i := mid; i < count; i++ {
			copyEntry(fresh, i-mid, child, i)
		}
		fresh.setCount(count - mid)
		child.setCount(mid)

		fresh.setRight(child.right())
		fresh.setLeft(child.page.Self)
		if child.right() != 0 {
			oldRight, err := bt.fetchNode(txn, child.right())
			if err != nil {
				return errors.Trace(err)
			}
			oldRight.setLeft(page.Self)
			oldRight.page.MarkDirty()
		}
		child.setRight(page.Self)

		// the separator is a copy of the right node's first key; an
		// extended key gets its own suffix blob so both slots own theirs
		copy(sepSlot, fresh.payload()[fresh.entryOffset(0):fresh.entryOffset(0)+stride])
		sepSlot[12] &= basic.KeyFlagExtended
		if fresh.entryFlags(0)&basic.KeyFlagExtended != 0 {
			prefixLen := int(db.keySize) - int(basic.ExtendedKeyOffsetSize)
			slotKey := sepSlot[entryHeaderSize : entryHeaderSize+int(db.keySize)]
			blobID := util.ReadUB8Byte2Long(slotKey[prefixLen:])
			suffix, err := db.env.blobs.ReadBlob(blobID)
			if err != nil {
				return errors.Trace(err)
			}
			dupID, err := db.env.blobs.Allocate(suffix)
			if err != nil {
				return errors.Trace(err)
			}
			util.WriteUB8(slotKey, prefixLen, dupID)
		}

		adjustOnSplit(child, fresh, mid)
	} else {
		// the separator moves up; its blob (if any) moves with it
		copy(sepSlot, child.payload()[child.entryOffset(mid):child.entryOffset(mid)+stride])
		fresh.setPtrDown(child.entryPtr(mid))
		for i := mid + 1; i < count; i++ {
			copyEntry(fresh, i-mid-1, child, i)
		}
		fresh.setCount(count - mid - 1)
		child.setCount(mid)
	}

	// place the separator in the parent
	sepSide := sideFromSlot(bt, sepSlot)
	sepKey, err := db.cmp.Materialize(sepSide)
	if err != nil {
		return errors.Trace(err)
	}
	pos, _, err := parent.search(sepKey)
	if err != nil {
		return errors.Trace(err)
	}
	parent.shiftRight(pos)
	at := parent.entryOffset(pos)
	copy(parent.payload()[at:at+stride], sepSlot)
	// separators carry no record, only the right child pointer
	parent.setEntryPtr(pos, page.Self)
	parent.setEntryRSize(pos, 0)
	parent.setCount(parent.count() + 1)

	child.page.MarkDirty()
	fresh.page.MarkDirty()
	parent.page.MarkDirty()
	if err := db.env.pm.Flush(txn, child.page, 0); err != nil {
		return errors.Trace(err)
	}
	if err := db.env.pm.Flush(txn, fresh.page, 0); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(db.env.pm.Flush(txn, parent.page, 0))
}

// sideFromSlot builds a comparator operand from a raw slot image.
func sideFromSlot(bt *BTree, slot []byte) compare.Side {
	return compare.Side{
		Flags:    slot[12],
		Data:     slot[entryHeaderSize : entryHeaderSize+int(bt.db.keySize)],
		RealSize: int(util.ReadUB2Byte2Int(slot[10:12])),
	}
}
