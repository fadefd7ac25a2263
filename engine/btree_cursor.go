package engine

import (
	"container/list"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/buffer"
)

// btreeCursor is the inner cursor over B+tree leaves. While coupled it
// sits on the page's cursor ring so splits and shifts can adjust it and
// the cache knows not to evict the page under it.
type btreeCursor struct {
	bt    *BTree
	page  *buffer.Page
	index int

	elem *list.Element // position in page.Cursors
}

func (bc *btreeCursor) isNil() bool {
	return bc.page == nil
}

func (bc *btreeCursor) node() node {
	return node{bt: bc.bt, page: bc.page}
}

func (bc *btreeCursor) couple(page *buffer.Page, index int) {
	bc.uncouple()
	bc.page = page
	bc.index = index
	bc.elem = page.Cursors.PushBack(bc)
}

func (bc *btreeCursor) uncouple() {
	if bc.page != nil && bc.elem != nil {
		bc.page.Cursors.Remove(bc.elem)
	}
	bc.page = nil
	bc.index = 0
	bc.elem = nil
}

// key materializes the cursor's current key.
func (bc *btreeCursor) key() ([]byte, error) {
	if bc.isNil() {
		return nil, errors.Trace(basic.ErrKeyNotFound)
	}
	return bc.node().entryKey(bc.index)
}

func (bc *btreeCursor) find(txn *Txn, key []byte) error {
	leaf, pos, err := bc.bt.Find(txn, key)
	if err != nil {
		return errors.Trace(err)
	}
	bc.couple(leaf.page, pos)
	return nil
}

func (bc *btreeCursor) moveFirst(txn *Txn) error {
	leaf, err := bc.bt.leftmostLeaf(txn)
	if err != nil {
		return errors.Trace(err)
	}
	for leaf.count() == 0 {
		right := leaf.right()
		if right == 0 {
			return errors.Trace(basic.ErrKeyNotFound)
		}
		leaf, err = bc.bt.fetchNode(txn, right)
		if err != nil {
			return errors.Trace(err)
		}
	}
	bc.couple(leaf.page, 0)
	return nil
}

func (bc *btreeCursor) moveLast(txn *Txn) error {
	leaf, err := bc.bt.rightmostLeaf(txn)
	if err != nil {
		return errors.Trace(err)
	}
	for leaf.count() == 0 {
		left := leaf.left()
		if left == 0 {
			return errors.Trace(basic.ErrKeyNotFound)
		}
		leaf, err = bc.bt.fetchNode(txn, left)
		if err != nil {
			return errors.Trace(err)
		}
	}
	bc.couple(leaf.page, leaf.count()-1)
	return nil
}

func (bc *btreeCursor) moveNext(txn *Txn) error {
	if bc.isNil() {
		return bc.moveFirst(txn)
	}
	n := bc.node()
	if bc.index+1 < n.count() {
		bc.couple(bc.page, bc.index+1)
		return nil
	}
	right := n.right()
	for right != 0 {
		next, err := bc.bt.fetchNode(txn, right)
		if err != nil {
			return errors.Trace(err)
		}
		if next.count() > 0 {
			bc.couple(next.page, 0)
			return nil
		}
		right = next.right()
	}
	bc.uncouple()
	return errors.Trace(basic.ErrKeyNotFound)
}

func (bc *btreeCursor) movePrevious(txn *Txn) error {
	if bc.isNil() {
		return bc.moveLast(txn)
	}
	n := bc.node()
	if bc.index > 0 {
		bc.couple(bc.page, bc.index-1)
		return nil
	}
	left := n.left()
	for left != 0 {
		prev, err := bc.bt.fetchNode(txn, left)
		if err != nil {
			return errors.Trace(err)
		}
		if prev.count() > 0 {
			bc.couple(prev.page, prev.count()-1)
			return nil
		}
		left = prev.left()
	}
	bc.uncouple()
	return errors.Trace(basic.ErrKeyNotFound)
}

// findApprox couples the cursor to the first slot >= key, possibly in
// a following leaf; ErrKeyNotFound when every key is smaller.
func (bc *btreeCursor) findApprox(txn *Txn, key []byte) error {
	leaf, _, err := bc.bt.descend(txn, key)
	if err != nil {
		return errors.Trace(err)
	}
	pos, _, err := leaf.search(key)
	if err != nil {
		return errors.Trace(err)
	}
	for pos >= leaf.count() {
		right := leaf.right()
		if right == 0 {
			bc.uncouple()
			return errors.Trace(basic.ErrKeyNotFound)
		}
		leaf, err = bc.bt.fetchNode(txn, right)
		if err != nil {
			return errors.Trace(err)
		}
		pos = 0
		if leaf.count() > 0 {
			break
		}
	}
	bc.couple(leaf.page, pos)
	return nil
}

func (bc *btreeCursor) cloneInto(dst *btreeCursor) {
	dst.bt = bc.bt
	if bc.page != nil {
		dst.couple(bc.page, bc.index)
	} else {
		dst.uncouple()
	}
}
