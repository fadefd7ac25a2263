package engine

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
)

// Move combines directional movement with retrieval: it returns the
// key and record the cursor lands on. flags combine one of
// CursorFirst/CursorLast/CursorNext/CursorPrev with
// CursorSkipDuplicates / CursorOnlyDuplicates.
func (c *Cursor) Move(flags uint32) ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, errors.Trace(basic.ErrInvalidParameter)
	}

	var err error
	switch {
	case flags&basic.CursorFirst != 0:
		err = c.moveFirst()
	case flags&basic.CursorLast != 0:
		err = c.moveLast()
	case flags&basic.CursorNext != 0:
		err = c.moveNext(flags)
	case flags&basic.CursorPrev != 0:
		err = c.movePrevious(flags)
	default:
		return nil, nil, errors.Trace(basic.ErrInvalidParameter)
	}
	if err != nil {
		return nil, nil, errors.Trace(err)
	}

	key, err := c.currentKey()
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	record, err := c.Record()
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	c.lastOp = flags
	return key, record, nil
}

// btKey materializes the btree cursor's key; nil cursor yields nil.
func (c *Cursor) btKey() ([]byte, error) {
	if c.btCursor.isNil() {
		return nil, nil
	}
	key, err := c.btCursor.key()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return key, nil
}

// pickWinner compares the two positioned sides and couples the cursor
// to the one that comes first in the move direction. direction is +1
// for forward moves, -1 for backward.
func (c *Cursor) pickWinner(direction int) error {
	btNil := c.btCursor.isNil()
	txNil := c.txCursor.isNil()
	if btNil && txNil {
		c.lastCmp = lastCmpNeedsRefresh
		return errors.Trace(basic.ErrKeyNotFound)
	}

	var cmp int
	switch {
	case btNil:
		cmp = direction // the txn side wins either way
	case txNil:
		cmp = -direction
	default:
		bk, err := c.btKey()
		if err != nil {
			return errors.Trace(err)
		}
		cmp = c.db.cmp.Full(bk, c.txCursor.key())
	}
	c.lastCmp = cmp

	if direction > 0 {
		c.coupledToTxn = cmp > 0
	} else {
		c.coupledToTxn = cmp < 0
	}
	if c.coupledToTxn && txNil {
		return errors.Trace(basic.ErrKeyNotFound)
	}
	if !c.coupledToTxn && btNil {
		return errors.Trace(basic.ErrKeyNotFound)
	}
	return nil
}

// advanceForward moves every side whose key is <= bound one step
// forward, re-seeding NIL sides from the tree / op index first.
func (c *Cursor) advanceForward(bound []byte) error {
	if c.btCursor.isNil() {
		if err := c.btCursor.findApprox(c.txn, bound); err != nil &&
			errors.Cause(err) != basic.ErrKeyNotFound {
			return errors.Trace(err)
		}
	}
	if !c.btCursor.isNil() {
		bk, err := c.btKey()
		if err != nil {
			return errors.Trace(err)
		}
		if c.db.cmp.Full(bk, bound) <= 0 {
			if err := c.btCursor.moveNext(c.txn); err != nil &&
				errors.Cause(err) != basic.ErrKeyNotFound {
				return errors.Trace(err)
			}
		}
	}

	if c.txn != nil {
		if c.txCursor.isNil() {
			c.txCursor.findApproxGE(bound)
		}
		if !c.txCursor.isNil() && c.db.cmp.Full(c.txCursor.key(), bound) <= 0 {
			if err := c.txCursor.moveNext(); err != nil &&
				errors.Cause(err) != basic.ErrKeyNotFound {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// advanceBackward mirrors advanceForward for PREVIOUS moves.
func (c *Cursor) advanceBackward(bound []byte) error {
	if c.btCursor.isNil() {
		if err := c.btCursor.findApprox(c.txn, bound); err != nil {
			if errors.Cause(err) != basic.ErrKeyNotFound {
				return errors.Trace(err)
			}
			// every tree key is below bound: start from the last one
			if err := c.btCursor.moveLast(c.txn); err != nil &&
				errors.Cause(err) != basic.ErrKeyNotFound {
				return errors.Trace(err)
			}
		}
	}
	if !c.btCursor.isNil() {
		bk, err := c.btKey()
		if err != nil {
			return errors.Trace(err)
		}
		if c.db.cmp.Full(bk, bound) >= 0 {
			if err := c.btCursor.movePrevious(c.txn); err != nil &&
				errors.Cause(err) != basic.ErrKeyNotFound {
				return errors.Trace(err)
			}
		}
	}

	if c.txn != nil {
		if c.txCursor.isNil() {
			c.txCursor.findApproxGE(bound)
			if c.txCursor.isNil() {
				if err := c.txCursor.moveLast(); err != nil &&
					errors.Cause(err) != basic.ErrKeyNotFound {
					return errors.Trace(err)
				}
			}
		}
		if !c.txCursor.isNil() && c.db.cmp.Full(c.txCursor.key(), bound) >= 0 {
			if err := c.txCursor.movePrevious(); err != nil &&
				errors.Cause(err) != basic.ErrKeyNotFound {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// settle loops pickWinner + dupecache rebuild, stepping over keys whose
// merged duplicate view is empty (fully erased in the txn).
func (c *Cursor) settle(direction int) error {
	for {
		if err := c.pickWinner(direction); err != nil {
			c.SetToNil(CursorBoth)
			return errors.Trace(basic.ErrKeyNotFound)
		}
		key, err := c.currentKey()
		if err != nil {
			return errors.Trace(err)
		}
		c.dupecacheKey = nil
		if err := c.updateDupecache(); err != nil {
			return errors.Trace(err)
		}
		if len(c.dupecache) > 0 {
			if direction > 0 {
				c.dupecacheIndex = 1
			} else {
				c.dupecacheIndex = len(c.dupecache)
			}
			return nil
		}
		if direction > 0 {
			err = c.advanceForward(key)
		} else {
			err = c.advanceBackward(key)
		}
		if err != nil {
			return errors.Trace(err)
		}
	}
}

func (c *Cursor) moveFirst() error {
	c.clearDupecache()
	if err := c.btCursor.moveFirst(c.txn); err != nil &&
		errors.Cause(err) != basic.ErrKeyNotFound {
		return errors.Trace(err)
	}
	if c.txn != nil {
		if err := c.txCursor.moveFirst(); err != nil &&
			errors.Cause(err) != basic.ErrKeyNotFound {
			return errors.Trace(err)
		}
	}
	return errors.Trace(c.settle(1))
}

func (c *Cursor) moveLast() error {
	c.clearDupecache()
	if err := c.btCursor.moveLast(c.txn); err != nil &&
		errors.Cause(err) != basic.ErrKeyNotFound {
		return errors.Trace(err)
	}
	if c.txn != nil {
		if err := c.txCursor.moveLast(); err != nil &&
			errors.Cause(err) != basic.ErrKeyNotFound {
			return errors.Trace(err)
		}
	}
	return errors.Trace(c.settle(-1))
}

func (c *Cursor) moveNext(flags uint32) error {
	if c.IsNil(CursorBoth) {
		return errors.Trace(c.moveFirst())
	}

	if err := c.updateDupecache(); err != nil {
		return errors.Trace(err)
	}
	if c.dupecacheIndex > 0 && flags&basic.CursorSkipDuplicates == 0 {
		if c.dupecacheIndex < len(c.dupecache) {
			c.dupecacheIndex++
			return nil
		}
		if flags&basic.CursorOnlyDuplicates != 0 {
			return errors.Trace(basic.ErrKeyNotFound)
		}
	} else if flags&basic.CursorOnlyDuplicates != 0 {
		return errors.Trace(basic.ErrKeyNotFound)
	}

	key, err := c.currentKey()
	if err != nil {
		return errors.Trace(err)
	}
	bound := append([]byte(nil), key...)
	if err := c.advanceForward(bound); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.settle(1))
}

func (c *Cursor) movePrevious(flags uint32) error {
	if c.IsNil(CursorBoth) {
		return errors.Trace(c.moveLast())
	}

	if err := c.updateDupecache(); err != nil {
		return errors.Trace(err)
	}
	if c.dupecacheIndex > 0 && flags&basic.CursorSkipDuplicates == 0 {
		if c.dupecacheIndex > 1 {
			c.dupecacheIndex--
			return nil
		}
		if flags&basic.CursorOnlyDuplicates != 0 {
			return errors.Trace(basic.ErrKeyNotFound)
		}
	} else if flags&basic.CursorOnlyDuplicates != 0 {
		return errors.Trace(basic.ErrKeyNotFound)
	}

	key, err := c.currentKey()
	if err != nil {
		return errors.Trace(err)
	}
	bound := append([]byte(nil), key...)
	if err := c.advanceBackward(bound); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.settle(-1))
}
