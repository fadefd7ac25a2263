package engine

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/buffer"
	"github.com/zhukovaskychina/xkv-engine/engine/compare"
	"github.com/zhukovaskychina/xkv-engine/util"
)

const (
	nodeHeaderSize  = 32
	entryHeaderSize = 13
	maxInlineRecord = 8
)

// entryImage is a prepared leaf entry before it lands in a node slot.
type entryImage struct {
	flags  uint8
	rsize  uint16
	ptrRaw [8]byte
}

/**
B+树。节点直接落在页面payload上：节点头(32字节)后面是定长槽位数组，
槽位格式 ptr(8) rsize(2) ksize(2) flags(1) key[keySize]。叶子槽位的ptr
按flags解释为内联记录、记录blob或重复表blob；内部节点的ptr是子页偏移。
超长键在槽内保留keySize-8字节前缀，结尾8字节指向后缀blob。
**/
type BTree struct {
	db *Database
}

func NewBTree(db *Database) *BTree {
	return &BTree{db: db}
}

func (bt *BTree) stride() int {
	return entryHeaderSize + int(bt.db.keySize)
}

func (bt *BTree) maxKeys() int {
	payload := int(bt.db.env.pageSize) - int(basic.PersistentHeaderSize)
	return (payload - nodeHeaderSize) / bt.stride()
}

// node is an accessor over a B+tree page.
type node struct {
	bt   *BTree
	page *buffer.Page
}

func (n node) payload() []byte {
	return n.page.Payload()
}

func (n node) isLeaf() bool {
	return util.ReadUB2Byte2Int(n.payload()[0:2]) != 0
}

func (n node) setLeaf(leaf bool) {
	v := uint16(0)
	if leaf {
		v = 1
	}
	util.WriteUB2(n.payload(), 0, v)
}

func (n node) count() int {
	return int(util.ReadUB2Byte2Int(n.payload()[2:4]))
}

func (n node) setCount(count int) {
	util.WriteUB2(n.payload(), 2, uint16(count))
}

func (n node) left() uint64 {
	return util.ReadUB8Byte2Long(n.payload()[4:12])
}

func (n node) setLeft(offset uint64) {
	util.WriteUB8(n.payload(), 4, offset)
}

func (n node) right() uint64 {
	return util.ReadUB8Byte2Long(n.payload()[12:20])
}

func (n node) setRight(offset uint64) {
	util.WriteUB8(n.payload(), 12, offset)
}

func (n node) ptrDown() uint64 {
	return util.ReadUB8Byte2Long(n.payload()[20:28])
}

func (n node) setPtrDown(offset uint64) {
	util.WriteUB8(n.payload(), 20, offset)
}

func (n node) entryOffset(i int) int {
	return nodeHeaderSize + i*n.bt.stride()
}

func (n node) entryPtrRaw(i int) []byte {
	at := n.entryOffset(i)
	return n.payload()[at : at+8]
}

func (n node) entryPtr(i int) uint64 {
	return util.ReadUB8Byte2Long(n.entryPtrRaw(i))
}

func (n node) setEntryPtr(i int, v uint64) {
	util.WriteUB8(n.payload(), n.entryOffset(i), v)
}

func (n node) entryRSize(i int) uint16 {
	at := n.entryOffset(i)
	return util.ReadUB2Byte2Int(n.payload()[at+8 : at+10])
}

func (n node) setEntryRSize(i int, v uint16) {
	util.WriteUB2(n.payload(), n.entryOffset(i)+8, v)
}

func (n node) entryKSize(i int) uint16 {
	at := n.entryOffset(i)
	return util.ReadUB2Byte2Int(n.payload()[at+10 : at+12])
}

func (n node) entryFlags(i int) uint8 {
	return n.payload()[n.entryOffset(i)+12]
}

func (n node) setEntryFlags(i int, v uint8) {
	n.payload()[n.entryOffset(i)+12] = v
}

// entryKeySlot returns the raw key slot, keySize bytes wide.
func (n node) entryKeySlot(i int) []byte {
	at := n.entryOffset(i) + entryHeaderSize
	return n.payload()[at : at+int(n.bt.db.keySize)]
}

// entrySide builds the comparator operand for slot i.
func (n node) entrySide(i int) compare.Side {
	return compare.Side{
		Flags:    n.entryFlags(i),
		Data:     n.entryKeySlot(i),
		RealSize: int(n.entryKSize(i)),
	}
}

// entryKey materializes the complete key of slot i.
func (n node) entryKey(i int) ([]byte, error) {
	return n.bt.db.cmp.Materialize(n.entrySide(i))
}

// writeEntry stores a prepared entry at slot i. The key slot bytes must
// already be prepared via makeKeySlot.
func (n node) writeEntry(i int, slotKey []byte, ksize uint16, keyFlags uint8, img entryImage) {
	at := n.entryOffset(i)
	payload := n.payload()
	copy(payload[at:at+8], img.ptrRaw[:])
	util.WriteUB2(payload, at+8, img.rsize)
	util.WriteUB2(payload, at+10, ksize)
	payload[at+12] = keyFlags | img.flags
	slot := payload[at+entryHeaderSize : at+entryHeaderSize+int(n.bt.db.keySize)]
	for j := range slot {
		slot[j] = 0
	}
	copy(slot, slotKey)
}

// copyEntry moves one raw slot between nodes (or within one node).
func copyEntry(dst node, dstIdx int, src node, srcIdx int) {
	stride := dst.bt.stride()
	dstAt := dst.entryOffset(dstIdx)
	srcAt := src.entryOffset(srcIdx)
	copy(dst.payload()[dstAt:dstAt+stride], src.payload()[srcAt:srcAt+stride])
}

// shiftRight opens a hole at pos by moving entries [pos, count) one
// slot to the right.
func (n node) shiftRight(pos int) {
	stride := n.bt.stride()
	count := n.count()
	payload := n.payload()
	from := n.entryOffset(pos)
	to := n.entryOffset(pos + 1)
	copy(payload[to:to+(count-pos)*stride], payload[from:from+(count-pos)*stride])
}

// shiftLeft closes the hole at pos by moving entries (pos, count) one
// slot to the left.
func (n node) shiftLeft(pos int) {
	stride := n.bt.stride()
	count := n.count()
	payload := n.payload()
	from := n.entryOffset(pos + 1)
	to := n.entryOffset(pos)
	copy(payload[to:to+(count-pos-1)*stride], payload[from:from+(count-pos-1)*stride])
}

// search returns the insertion point for key and whether the slot at
// that point holds exactly key.
func (n node) search(key []byte) (int, bool, error) {
	target := compare.Side{Data: key, RealSize: len(key)}
	lo, hi := 0, n.count()
	for lo < hi {
		mid := (lo + hi) / 2
		r, err := n.bt.db.cmp.Compare(n.entrySide(mid), target)
		if err != nil {
			return 0, false, errors.Trace(err)
		}
		if r < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n.count() {
		r, err := n.bt.db.cmp.Compare(n.entrySide(lo), target)
		if err != nil {
			return 0, false, errors.Trace(err)
		}
		return lo, r == 0, nil
	}
	return lo, false, nil
}

// childFor returns the child page offset the key belongs to.
func (n node) childFor(key []byte) (uint64, error) {
	pos, exact, err := n.search(key)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if exact {
		return n.entryPtr(pos), nil
	}
	if pos == 0 {
		return n.ptrDown(), nil
	}
	return n.entryPtr(pos - 1), nil
}

// fetchNode loads the node at offset through the database's page path.
func (bt *BTree) fetchNode(txn *Txn, offset uint64) (node, error) {
	page, err := bt.db.fetchPage(txn, offset)
	if err != nil {
		return node{}, errors.Trace(err)
	}
	return node{bt: bt, page: page}, nil
}

// descend walks from the root to the leaf that owns key, recording the
// path of (offset, child index) pairs for splits.
type pathElem struct {
	offset uint64
	pos    int
}

func (bt *BTree) descend(txn *Txn, key []byte) (node, []pathElem, error) {
	root := bt.db.rootOffset()
	if root == 0 {
		return node{}, nil, errors.Trace(basic.ErrKeyNotFound)
	}
	var path []pathElem
	n, err := bt.fetchNode(txn, root)
	if err != nil {
		return node{}, nil, errors.Trace(err)
	}
	for !n.isLeaf() {
		pos, exact, err := n.search(key)
		if err != nil {
			return node{}, nil, errors.Trace(err)
		}
		childIdx := pos
		if !exact && pos == 0 {
			childIdx = -1 // ptrDown
		} else if !exact {
			childIdx = pos - 1
		}
		var child uint64
		if childIdx < 0 {
			child = n.ptrDown()
		} else {
			child = n.entryPtr(childIdx)
		}
		path = append(path, pathElem{offset: n.page.Self, pos: childIdx})
		n, err = bt.fetchNode(txn, child)
		if err != nil {
			return node{}, nil, errors.Trace(err)
		}
	}
	return n, path, nil
}

// Find positions on the leaf slot holding key.
func (bt *BTree) Find(txn *Txn, key []byte) (node, int, error) {
	leaf, _, err := bt.descend(txn, key)
	if err != nil {
		return node{}, 0, errors.Trace(err)
	}
	pos, exact, err := leaf.search(key)
	if err != nil {
		return node{}, 0, errors.Trace(err)
	}
	if !exact {
		return node{}, 0, errors.Trace(basic.ErrKeyNotFound)
	}
	return leaf, pos, nil
}

// leftmostLeaf / rightmostLeaf find the boundary leaves.
func (bt *BTree) leftmostLeaf(txn *Txn) (node, error) {
	root := bt.db.rootOffset()
	if root == 0 {
		return node{}, errors.Trace(basic.ErrKeyNotFound)
	}
	n, err := bt.fetchNode(txn, root)
	if err != nil {
		return node{}, errors.Trace(err)
	}
	for !n.isLeaf() {
		n, err = bt.fetchNode(txn, n.ptrDown())
		if err != nil {
			return node{}, errors.Trace(err)
		}
	}
	return n, nil
}

func (bt *BTree) rightmostLeaf(txn *Txn) (node, error) {
	root := bt.db.rootOffset()
	if root == 0 {
		return node{}, errors.Trace(basic.ErrKeyNotFound)
	}
	n, err := bt.fetchNode(txn, root)
	if err != nil {
		return node{}, errors.Trace(err)
	}
	for !n.isLeaf() {
		count := n.count()
		var child uint64
		if count == 0 {
			child = n.ptrDown()
		} else {
			child = n.entryPtr(count - 1)
		}
		n, err = bt.fetchNode(txn, child)
		if err != nil {
			return node{}, errors.Trace(err)
		}
	}
	return n, nil
}
