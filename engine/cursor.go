package engine

import (
	"container/list"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
)

// dupeLine is one line of the cursor's duplicate cache: either the
// 1-based index of a btree duplicate or a reference to a txn op.
type dupeLine struct {
	useBtree bool
	dupIdx   int
	op       *txnOp
}

// Sides of the dual cursor for partial NIL checks.
const (
	CursorBtree uint32 = 1 << 0
	CursorTxn   uint32 = 1 << 1
	CursorBoth  uint32 = CursorBtree | CursorTxn
)

// lastCmpNeedsRefresh is any value outside {-1, 0, +1}.
const lastCmpNeedsRefresh = 2

// mergeDuplicates builds the merged duplicate view of key: the btree
// duplicates first, then the txn op chain applied in commit order.
// btreeHad reports whether the btree holds the key at all.
func (db *Database) mergeDuplicates(txn *Txn, key []byte) ([]dupeLine, bool, error) {
	var lines []dupeLine
	btreeHad := false

	leaf, pos, err := db.bt.Find(txn, key)
	switch {
	case err == nil:
		btreeHad = true
		count, err := db.btreeDupeCount(leaf, pos)
		if err != nil {
			return nil, false, errors.Trace(err)
		}
		for i := 1; i <= count; i++ {
			lines = append(lines, dupeLine{useBtree: true, dupIdx: i})
		}
	case errors.Cause(err) == basic.ErrKeyNotFound:
		// fall through with an empty btree side
	default:
		return nil, false, errors.Trace(err)
	}

	if txn != nil {
		if tn := db.txnIdx.get(key); tn != nil {
			for _, op := range tn.visibleOps(txn) {
				switch op.kind {
				case txnOpInsert, txnOpInsertDup:
					lines = append(lines, dupeLine{op: op})
				case txnOpOverwrite:
					idx := op.dupIndex
					if idx <= 0 {
						idx = 1
					}
					if idx <= len(lines) {
						lines[idx-1] = dupeLine{op: op}
					} else {
						lines = append(lines, dupeLine{op: op})
					}
				case txnOpErase:
					if op.dupIndex == 0 {
						lines = nil
					} else if op.dupIndex <= len(lines) {
						lines = append(lines[:op.dupIndex-1], lines[op.dupIndex:]...)
					}
				}
			}
		}
	}
	return lines, btreeHad, nil
}

// readDupeLine resolves one merged line to its record bytes.
func (db *Database) readDupeLine(txn *Txn, key []byte, line dupeLine) ([]byte, error) {
	if !line.useBtree {
		return line.op.record, nil
	}
	leaf, pos, err := db.bt.Find(txn, key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return db.readBtreeRecord(leaf, pos, line.dupIdx)
}

/**
双模游标。内部同时持有B+树游标和事务游标，任一时刻处于NIL、耦合B+树
或耦合事务三态之一。dupecache是当前键的合并重复视图(已提交的加上本
事务in-flight的)，dupecacheIndex从1起；lastCmp缓存两个内部游标最近
一次的键序，取值超出[-1,1]表示需要重新比较。
**/
type Cursor struct {
	db  *Database
	txn *Txn

	btCursor btreeCursor
	txCursor txnCursor

	coupledToTxn bool

	dupecache      []dupeLine
	dupecacheIndex int
	dupecacheKey   []byte

	lastOp  uint32
	lastCmp int

	dbElem  *list.Element
	txnElem *list.Element

	closed bool
}

// Cursor creates a traversal handle, optionally bound to a txn.
func (db *Database) Cursor(txn *Txn) (*Cursor, error) {
	if db.closed {
		return nil, errors.Trace(basic.ErrInvalidParameter)
	}
	if txn != nil && !txn.active {
		return nil, errors.Trace(basic.ErrInvalidTxnState)
	}
	c := &Cursor{
		db:      db,
		txn:     txn,
		lastCmp: lastCmpNeedsRefresh,
	}
	c.btCursor.bt = db.bt
	c.txCursor.db = db
	c.txCursor.txn = txn
	c.dbElem = db.cursors.PushBack(c)
	if txn != nil {
		c.txnElem = txn.cursors.PushBack(c)
	}
	return c, nil
}

// Clone deep-copies the cursor: the duplicate cache and both inner
// cursors' positions.
func (c *Cursor) Clone() (*Cursor, error) {
	dup, err := c.db.Cursor(c.txn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.btCursor.cloneInto(&dup.btCursor)
	dup.txCursor.node = c.txCursor.node
	dup.coupledToTxn = c.coupledToTxn
	dup.dupecache = append([]dupeLine(nil), c.dupecache...)
	dup.dupecacheIndex = c.dupecacheIndex
	dup.dupecacheKey = append([]byte(nil), c.dupecacheKey...)
	dup.lastOp = c.lastOp
	dup.lastCmp = c.lastCmp
	return dup, nil
}

// Close detaches the cursor from every list it sits on. Closing twice
// is a programming error.
func (c *Cursor) Close() {
	if c.closed {
		panic("xkv: cursor closed twice")
	}
	c.btCursor.uncouple()
	c.txCursor.setToNil()
	c.clearDupecache()
	if c.dbElem != nil {
		c.db.cursors.Remove(c.dbElem)
		c.dbElem = nil
	}
	if c.txnElem != nil {
		c.txn.cursors.Remove(c.txnElem)
		c.txnElem = nil
	}
	c.closed = true
}

// IsNil checks whether the chosen side(s) of the cursor are detached.
func (c *Cursor) IsNil(what uint32) bool {
	if what&CursorBtree != 0 && !c.btCursor.isNil() {
		return false
	}
	if what&CursorTxn != 0 && !c.txCursor.isNil() {
		return false
	}
	return true
}

// SetToNil detaches the chosen side(s).
func (c *Cursor) SetToNil(what uint32) {
	if what&CursorBtree != 0 {
		c.btCursor.uncouple()
	}
	if what&CursorTxn != 0 {
		c.txCursor.setToNil()
	}
	if c.IsNil(CursorBoth) {
		c.clearDupecache()
		c.coupledToTxn = false
	}
	c.lastCmp = lastCmpNeedsRefresh
}

func (c *Cursor) clearDupecache() {
	c.dupecache = nil
	c.dupecacheIndex = 0
	c.dupecacheKey = nil
}

// currentKey returns the key of the coupled side.
func (c *Cursor) currentKey() ([]byte, error) {
	if c.coupledToTxn {
		if c.txCursor.isNil() {
			return nil, errors.Trace(basic.ErrKeyNotFound)
		}
		return c.txCursor.key(), nil
	}
	return c.btCursor.key()
}

// updateDupecache rebuilds the merged duplicate view for the current
// key when it is stale.
func (c *Cursor) updateDupecache() error {
	key, err := c.currentKey()
	if err != nil {
		return errors.Trace(err)
	}
	if c.dupecacheKey != nil && c.db.cmp.Full(c.dupecacheKey, key) == 0 {
		return nil
	}
	lines, _, err := c.db.mergeDuplicates(c.txn, key)
	if err != nil {
		return errors.Trace(err)
	}
	c.dupecache = lines
	c.dupecacheKey = append([]byte(nil), key...)
	if c.dupecacheIndex > len(lines) {
		c.dupecacheIndex = len(lines)
	}
	return nil
}

// CheckIfBtreeKeyIsErasedOrOverwritten probes the txn op chain for the
// btree cursor's current key.
func (c *Cursor) CheckIfBtreeKeyIsErasedOrOverwritten() error {
	if c.txn == nil || c.btCursor.isNil() {
		return nil
	}
	key, err := c.btCursor.key()
	if err != nil {
		return errors.Trace(err)
	}
	lines, btreeHad, err := c.db.mergeDuplicates(c.txn, key)
	if err != nil {
		return errors.Trace(err)
	}
	if btreeHad && len(lines) == 0 {
		return errors.Trace(basic.ErrKeyErasedInTxn)
	}
	return nil
}

// Sync positions whichever inner cursor is NIL at the other's key.
func (c *Cursor) Sync(onlyEqualKey bool) (bool, error) {
	equal := false
	switch {
	case c.btCursor.isNil() && !c.txCursor.isNil():
		err := c.btCursor.find(c.txn, c.txCursor.key())
		if err == nil {
			equal = true
		} else if errors.Cause(err) != basic.ErrKeyNotFound {
			return false, errors.Trace(err)
		} else if !onlyEqualKey {
			if err := c.btCursor.findApprox(c.txn, c.txCursor.key()); err != nil &&
				errors.Cause(err) != basic.ErrKeyNotFound {
				return false, errors.Trace(err)
			}
		}
	case c.txCursor.isNil() && !c.btCursor.isNil():
		key, err := c.btCursor.key()
		if err != nil {
			return false, errors.Trace(err)
		}
		if err := c.txCursor.find(key); err == nil {
			equal = true
		}
	}
	c.lastCmp = lastCmpNeedsRefresh
	return equal, nil
}

// Find positions the cursor on key: coupled to the txn when the key has
// an in-flight op, to the btree when only the tree holds it.
func (c *Cursor) Find(key []byte) error {
	if c.closed {
		return errors.Trace(basic.ErrInvalidParameter)
	}
	c.clearDupecache()
	c.lastCmp = lastCmpNeedsRefresh

	if c.txn != nil {
		lines, btreeHad, err := c.db.mergeDuplicates(c.txn, key)
		if err != nil {
			return errors.Trace(err)
		}
		if len(lines) == 0 {
			c.SetToNil(CursorBoth)
			if btreeHad {
				return errors.Trace(basic.ErrKeyErasedInTxn)
			}
			return errors.Trace(basic.ErrKeyNotFound)
		}
		c.dupecache = lines
		c.dupecacheKey = append([]byte(nil), key...)
		c.dupecacheIndex = 1

		if err := c.txCursor.find(key); err == nil {
			c.coupledToTxn = true
			// keep the btree side in sync when the tree has the key
			if err := c.btCursor.find(c.txn, key); err != nil &&
				errors.Cause(err) != basic.ErrKeyNotFound {
				return errors.Trace(err)
			}
			return nil
		}
		c.coupledToTxn = false
		return errors.Trace(c.btCursor.find(c.txn, key))
	}

	if err := c.btCursor.find(nil, key); err != nil {
		c.SetToNil(CursorBoth)
		return errors.Trace(err)
	}
	c.coupledToTxn = false
	if err := c.updateDupecache(); err != nil {
		return errors.Trace(err)
	}
	c.dupecacheIndex = 1
	return nil
}

// Insert stores (key, record) and couples the cursor to the new entry.
func (c *Cursor) Insert(key []byte, record []byte, flags uint32) error {
	if c.closed {
		return errors.Trace(basic.ErrInvalidParameter)
	}
	if err := c.db.Insert(c.txn, key, record, flags); err != nil {
		return errors.Trace(err)
	}
	c.lastOp = flags
	c.clearDupecache()

	if c.txn != nil {
		if err := c.txCursor.find(key); err != nil {
			return errors.Trace(err)
		}
		c.coupledToTxn = true
		return nil
	}
	c.coupledToTxn = false
	if err := c.btCursor.find(nil, key); err != nil {
		return errors.Trace(err)
	}
	// a fresh duplicate sits at the end of the table
	if flags&basic.InsertDuplicate != 0 {
		if err := c.updateDupecache(); err != nil {
			return errors.Trace(err)
		}
		c.dupecacheIndex = len(c.dupecache)
	}
	return nil
}

// Overwrite replaces the record of the selected duplicate without
// moving the cursor.
func (c *Cursor) Overwrite(record []byte) error {
	if c.closed {
		return errors.Trace(basic.ErrInvalidParameter)
	}
	if c.IsNil(CursorBoth) {
		return errors.Trace(basic.ErrKeyNotFound)
	}
	key, err := c.currentKey()
	if err != nil {
		return errors.Trace(err)
	}
	dupIdx := c.dupecacheIndex
	if dupIdx == 0 {
		dupIdx = 1
	}

	if c.txn != nil {
		_, err := c.txn.addOp(c.db, key, txnOpOverwrite, record, dupIdx)
		if err != nil {
			return errors.Trace(err)
		}
		c.dupecacheKey = nil // force a rebuild
		return nil
	}

	if err := c.db.bt.overwriteDuplicate(nil, key, dupIdx, record); err != nil {
		return errors.Trace(err)
	}
	c.dupecacheKey = nil
	return nil
}

// Erase removes the selected duplicate (or the whole key when the
// cursor is not in duplicate mode) and sets the cursor to NIL.
func (c *Cursor) Erase() error {
	if c.closed {
		return errors.Trace(basic.ErrInvalidParameter)
	}
	if c.IsNil(CursorBoth) {
		return errors.Trace(basic.ErrKeyNotFound)
	}
	key, err := c.currentKey()
	if err != nil {
		return errors.Trace(err)
	}

	if c.txn != nil {
		dupIdx := 0
		if c.dupecacheIndex > 0 && len(c.dupecache) > 1 {
			dupIdx = c.dupecacheIndex
		}
		if _, err := c.txn.addOp(c.db, key, txnOpErase, nil, dupIdx); err != nil {
			return errors.Trace(err)
		}
		c.SetToNil(CursorBoth)
		return nil
	}

	flags := uint32(0)
	dupIdx := 0
	if c.dupecacheIndex > 0 && len(c.dupecache) > 1 {
		dupIdx = c.dupecache[c.dupecacheIndex-1].dupIdx
	} else {
		flags = basic.EraseAllDuplicates
	}
	if err := c.db.bt.Erase(nil, key, dupIdx, flags); err != nil {
		return errors.Trace(err)
	}
	c.SetToNil(CursorBoth)
	return nil
}

// GetDuplicateCount returns the number of duplicates of the current
// key, rebuilding the duplicate cache when it is stale.
func (c *Cursor) GetDuplicateCount() (int, error) {
	if c.closed {
		return 0, errors.Trace(basic.ErrInvalidParameter)
	}
	if c.IsNil(CursorBoth) {
		return 0, errors.Trace(basic.ErrKeyNotFound)
	}
	if err := c.updateDupecache(); err != nil {
		return 0, errors.Trace(err)
	}
	if len(c.dupecache) > 1 {
		return len(c.dupecache), nil
	}
	return 1, nil
}

// Key returns the current key.
func (c *Cursor) Key() ([]byte, error) {
	if c.IsNil(CursorBoth) {
		return nil, errors.Trace(basic.ErrKeyNotFound)
	}
	return c.currentKey()
}

// Record returns the record of the selected duplicate.
func (c *Cursor) Record() ([]byte, error) {
	if c.IsNil(CursorBoth) {
		return nil, errors.Trace(basic.ErrKeyNotFound)
	}
	key, err := c.currentKey()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := c.updateDupecache(); err != nil {
		return nil, errors.Trace(err)
	}
	if len(c.dupecache) == 0 {
		return nil, errors.Trace(basic.ErrKeyNotFound)
	}
	idx := c.dupecacheIndex
	if idx == 0 {
		idx = 1
	}
	return c.db.readDupeLine(c.txn, key, c.dupecache[idx-1])
}
