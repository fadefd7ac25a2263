package engine

import (
	"bytes"
	"container/list"
	"sort"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/buffer"
	"github.com/zhukovaskychina/xkv-engine/metrics"
	"github.com/zhukovaskychina/xkv-engine/util"
)

type txnOpKind uint8

const (
	txnOpInsert txnOpKind = iota
	txnOpInsertDup
	txnOpOverwrite
	txnOpErase
)

// txnOp is one in-flight mutation of a key.
type txnOp struct {
	kind     txnOpKind
	txn      *Txn
	node     *txnNode
	record   []byte
	dupIndex int // 1-based; 0 with kind txnOpErase erases everything
}

// txnNode collects the op chain of one key, in commit order.
type txnNode struct {
	db  *Database
	key []byte
	ops []*txnOp
}

// visibleOps returns the node's ops belonging to txn, in order.
func (tn *txnNode) visibleOps(txn *Txn) []*txnOp {
	ops := make([]*txnOp, 0, len(tn.ops))
	for _, op := range tn.ops {
		if op.txn == txn {
			ops = append(ops, op)
		}
	}
	return ops
}

// hasForeignOps reports whether another live transaction holds ops on
// this key.
func (tn *txnNode) hasForeignOps(txn *Txn) bool {
	for _, op := range tn.ops {
		if op.txn != txn && op.txn.active {
			return true
		}
	}
	return false
}

/**
每个数据库一棵op树：按键聚合未提交的修改。nodes用util.HashCode做
精确定位（桶内按字节比对解决碰撞），sorted按数据库比较器维持键序，
供事务游标沿键序遍历。
**/
type txnIndex struct {
	db     *Database
	nodes  map[uint64][]*txnNode
	sorted []*txnNode
}

func newTxnIndex(db *Database) *txnIndex {
	return &txnIndex{
		db:    db,
		nodes: make(map[uint64][]*txnNode),
	}
}

func (ti *txnIndex) get(key []byte) *txnNode {
	for _, tn := range ti.nodes[util.HashCode(key)] {
		if bytes.Equal(tn.key, key) {
			return tn
		}
	}
	return nil
}

func (ti *txnIndex) getOrCreate(key []byte) *txnNode {
	if tn := ti.get(key); tn != nil {
		return tn
	}
	tn := &txnNode{db: ti.db, key: util.CopyBytes(key)}
	hash := util.HashCode(key)
	ti.nodes[hash] = append(ti.nodes[hash], tn)

	pos := sort.Search(len(ti.sorted), func(i int) bool {
		return ti.db.cmp.Full(ti.sorted[i].key, key) >= 0
	})
	ti.sorted = append(ti.sorted, nil)
	copy(ti.sorted[pos+1:], ti.sorted[pos:])
	ti.sorted[pos] = tn
	return tn
}

func (ti *txnIndex) remove(tn *txnNode) {
	hash := util.HashCode(tn.key)
	chain := ti.nodes[hash]
	for i := range chain {
		if chain[i] == tn {
			ti.nodes[hash] = append(chain[:i], chain[i+1:]...)
			break
		}
	}
	if len(ti.nodes[hash]) == 0 {
		delete(ti.nodes, hash)
	}
	for i := range ti.sorted {
		if ti.sorted[i] == tn {
			ti.sorted = append(ti.sorted[:i], ti.sorted[i+1:]...)
			break
		}
	}
}

/**
事务。写操作只进op树，提交时按记录顺序应用到B+树，回滚时丢弃。
私有页表让事务看到自己未提交的页面，并把这些页钉在缓存里。
**/
type Txn struct {
	env    *Environment
	id     uint64
	active bool

	// pagemap is the txn's private page table.
	pagemap map[uint64]*buffer.Page

	// ops in creation order, across all databases of the env.
	ops []*txnOp

	// cursors bound to this txn; closed when the txn ends.
	cursors *list.List
}

// Begin starts a transaction. The environment must run with
// FlagEnableTransactions.
func (env *Environment) Begin() (*Txn, error) {
	if env.flags&basic.FlagEnableTransactions == 0 {
		return nil, errors.Trace(basic.ErrTxnNotSupported)
	}
	env.txnSerial++
	txn := &Txn{
		env:     env,
		id:      env.txnSerial,
		active:  true,
		pagemap: make(map[uint64]*buffer.Page),
		cursors: list.New(),
	}
	env.liveTxns[txn] = struct{}{}
	return txn, nil
}

// GetPage consults the txn's private page table.
func (txn *Txn) GetPage(offset uint64) *buffer.Page {
	return txn.pagemap[offset]
}

// AddPage registers a page with the transaction, pinning it against
// eviction until the transaction ends.
func (txn *Txn) AddPage(page *buffer.Page) {
	if _, ok := txn.pagemap[page.Self]; ok {
		return
	}
	txn.pagemap[page.Self] = page
	page.TxnRef++
}

func (txn *Txn) releasePages() {
	for _, page := range txn.pagemap {
		if page.TxnRef > 0 {
			page.TxnRef--
		}
	}
	txn.pagemap = make(map[uint64]*buffer.Page)
}

func (txn *Txn) closeCursors() {
	for txn.cursors.Len() > 0 {
		cursor := txn.cursors.Front().Value.(*Cursor)
		cursor.Close()
	}
}

// addOp records a mutation on key, guarding against in-flight ops of
// other live transactions.
func (txn *Txn) addOp(db *Database, key []byte, kind txnOpKind, record []byte, dupIndex int) (*txnOp, error) {
	if !txn.active {
		return nil, errors.Trace(basic.ErrInvalidTxnState)
	}
	tn := db.txnIdx.getOrCreate(key)
	if tn.hasForeignOps(txn) {
		return nil, errors.Trace(basic.ErrTxnConflict)
	}
	op := &txnOp{
		kind:     kind,
		txn:      txn,
		node:     tn,
		record:   util.CopyBytes(record),
		dupIndex: dupIndex,
	}
	tn.ops = append(tn.ops, op)
	txn.ops = append(txn.ops, op)
	return op, nil
}

// dropOps removes this txn's ops from every node they touched.
func (txn *Txn) dropOps() {
	touched := make(map[*txnNode]struct{})
	for _, op := range txn.ops {
		keep := op.node.ops[:0]
		for _, other := range op.node.ops {
			if other.txn != txn {
				keep = append(keep, other)
			}
		}
		op.node.ops = keep
		touched[op.node] = struct{}{}
	}
	for tn := range touched {
		if len(tn.ops) == 0 {
			tn.db.txnIdx.remove(tn)
		}
	}
	txn.ops = nil
}

// Commit applies the transaction's ops to the B+trees in order, then
// discards them.
func (txn *Txn) Commit() error {
	if !txn.active {
		return errors.Trace(basic.ErrInvalidTxnState)
	}
	txn.closeCursors()

	for _, op := range txn.ops {
		db := op.node.db
		var err error
		switch op.kind {
		case txnOpInsert:
			err = db.bt.Insert(nil, op.node.key, op.record, 0)
		case txnOpInsertDup:
			err = db.bt.Insert(nil, op.node.key, op.record, basic.InsertDuplicate)
		case txnOpOverwrite:
			if op.dupIndex > 0 {
				err = db.bt.overwriteDuplicate(nil, op.node.key, op.dupIndex, op.record)
			} else {
				err = db.bt.Insert(nil, op.node.key, op.record, basic.InsertOverwrite)
			}
		case txnOpErase:
			flags := uint32(0)
			if op.dupIndex == 0 {
				flags = basic.EraseAllDuplicates
			}
			err = db.bt.Erase(nil, op.node.key, op.dupIndex, flags)
		}
		if err != nil {
			return errors.Annotatef(err, "commit of txn %d", txn.id)
		}
	}

	txn.finish()
	metrics.TxnCommits.Inc()
	return nil
}

// Abort discards every pending op.
func (txn *Txn) Abort() error {
	if !txn.active {
		return errors.Trace(basic.ErrInvalidTxnState)
	}
	txn.closeCursors()
	txn.finish()
	metrics.TxnAborts.Inc()
	return nil
}

func (txn *Txn) finish() {
	txn.dropOps()
	txn.releasePages()
	txn.active = false
	delete(txn.env.liveTxns, txn)
}
