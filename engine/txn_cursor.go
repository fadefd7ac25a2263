package engine

import (
	"sort"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
)

// txnCursor is the inner cursor over a database's op tree. It walks the
// comparator-sorted node list, visiting nodes that carry ops of its
// transaction.
type txnCursor struct {
	db   *Database
	txn  *Txn
	node *txnNode
}

func (tc *txnCursor) isNil() bool {
	return tc.node == nil
}

func (tc *txnCursor) setToNil() {
	tc.node = nil
}

func (tc *txnCursor) key() []byte {
	if tc.node == nil {
		return nil
	}
	return tc.node.key
}

// visible reports whether a node carries ops of this cursor's txn.
func (tc *txnCursor) visible(tn *txnNode) bool {
	return tc.txn != nil && len(tn.visibleOps(tc.txn)) > 0
}

// position finds the node's index in the sorted list; the list mutates
// under inserts, so the position is recomputed from the key.
func (tc *txnCursor) position(tn *txnNode) int {
	sorted := tc.db.txnIdx.sorted
	pos := sort.Search(len(sorted), func(i int) bool {
		return tc.db.cmp.Full(sorted[i].key, tn.key) >= 0
	})
	for pos < len(sorted) && sorted[pos] != tn {
		pos++
	}
	return pos
}

func (tc *txnCursor) moveFirst() error {
	if tc.txn == nil {
		return errors.Trace(basic.ErrKeyNotFound)
	}
	for _, tn := range tc.db.txnIdx.sorted {
		if tc.visible(tn) {
			tc.node = tn
			return nil
		}
	}
	tc.node = nil
	return errors.Trace(basic.ErrKeyNotFound)
}

func (tc *txnCursor) moveLast() error {
	if tc.txn == nil {
		return errors.Trace(basic.ErrKeyNotFound)
	}
	sorted := tc.db.txnIdx.sorted
	for i := len(sorted) - 1; i >= 0; i-- {
		if tc.visible(sorted[i]) {
			tc.node = sorted[i]
			return nil
		}
	}
	tc.node = nil
	return errors.Trace(basic.ErrKeyNotFound)
}

func (tc *txnCursor) moveNext() error {
	if tc.node == nil {
		return tc.moveFirst()
	}
	sorted := tc.db.txnIdx.sorted
	for i := tc.position(tc.node) + 1; i < len(sorted); i++ {
		if tc.visible(sorted[i]) {
			tc.node = sorted[i]
			return nil
		}
	}
	tc.node = nil
	return errors.Trace(basic.ErrKeyNotFound)
}

func (tc *txnCursor) movePrevious() error {
	if tc.node == nil {
		return tc.moveLast()
	}
	for i := tc.position(tc.node) - 1; i >= 0; i-- {
		if tc.visible(tc.db.txnIdx.sorted[i]) {
			tc.node = tc.db.txnIdx.sorted[i]
			return nil
		}
	}
	tc.node = nil
	return errors.Trace(basic.ErrKeyNotFound)
}

// findApproxGE couples to the first node with key >= key that carries
// visible ops; the cursor stays NIL when there is none.
func (tc *txnCursor) findApproxGE(key []byte) {
	if tc.txn == nil {
		return
	}
	sorted := tc.db.txnIdx.sorted
	pos := sort.Search(len(sorted), func(i int) bool {
		return tc.db.cmp.Full(sorted[i].key, key) >= 0
	})
	for ; pos < len(sorted); pos++ {
		if tc.visible(sorted[pos]) {
			tc.node = sorted[pos]
			return
		}
	}
	tc.node = nil
}

// find couples to the node holding key, when it carries visible ops.
func (tc *txnCursor) find(key []byte) error {
	if tc.txn == nil {
		return errors.Trace(basic.ErrKeyNotFound)
	}
	tn := tc.db.txnIdx.get(key)
	if tn == nil || !tc.visible(tn) {
		return errors.Trace(basic.ErrKeyNotFound)
	}
	tc.node = tn
	return nil
}
