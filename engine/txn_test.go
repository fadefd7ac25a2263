package engine

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
)

func newTxnEnv(t *testing.T) *Environment {
	env, err := Create(t.TempDir(), "env.xkv", basic.FlagEnableTransactions, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func TestBeginRequiresFlag(t *testing.T) {
	env, err := Create(t.TempDir(), "env.xkv", 0, nil)
	assert.NoError(t, err)
	defer env.Close()

	_, err = env.Begin()
	assert.Equal(t, basic.ErrTxnNotSupported, errors.Cause(err))
}

// scenario: an uncommitted insert is visible through a cursor bound to
// the txn and vanishes on abort
func TestTxnInsertVisibilityAndAbort(t *testing.T) {
	env := newTxnEnv(t)
	db, err := env.CreateDB(1, 0, nil)
	assert.NoError(t, err)

	txn, err := env.Begin()
	assert.NoError(t, err)
	assert.NoError(t, db.Insert(txn, []byte("x"), []byte("1"), 0))

	cursor, err := db.Cursor(txn)
	assert.NoError(t, err)
	assert.NoError(t, cursor.Find([]byte("x")))
	record, err := cursor.Record()
	assert.NoError(t, err)
	assert.Equal(t, []byte("1"), record)

	assert.NoError(t, txn.Abort())
	_, err = db.Find(nil, []byte("x"))
	assert.Equal(t, basic.ErrKeyNotFound, errors.Cause(err))
}

func TestTxnCommitAppliesOps(t *testing.T) {
	env := newTxnEnv(t)
	db, err := env.CreateDB(1, 0, nil)
	assert.NoError(t, err)

	txn, err := env.Begin()
	assert.NoError(t, err)
	assert.NoError(t, db.Insert(txn, []byte("a"), []byte("1"), 0))
	assert.NoError(t, db.Insert(txn, []byte("b"), []byte("2"), 0))
	assert.NoError(t, txn.Commit())

	record, err := db.Find(nil, []byte("a"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("1"), record)
	record, err = db.Find(nil, []byte("b"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("2"), record)
}

func TestTxnEraseShadowsBtree(t *testing.T) {
	env := newTxnEnv(t)
	db, err := env.CreateDB(1, 0, nil)
	assert.NoError(t, err)

	assert.NoError(t, db.Insert(nil, []byte("k"), []byte("v"), 0))

	txn, err := env.Begin()
	assert.NoError(t, err)
	assert.NoError(t, db.Erase(txn, []byte("k")))

	// erased inside the txn
	_, err = db.Find(txn, []byte("k"))
	assert.Equal(t, basic.ErrKeyErasedInTxn, errors.Cause(err))
	// still visible outside
	record, err := db.Find(nil, []byte("k"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("v"), record)

	assert.NoError(t, txn.Commit())
	_, err = db.Find(nil, []byte("k"))
	assert.Equal(t, basic.ErrKeyNotFound, errors.Cause(err))
}

func TestTxnConflict(t *testing.T) {
	env := newTxnEnv(t)
	db, err := env.CreateDB(1, 0, nil)
	assert.NoError(t, err)

	t1, err := env.Begin()
	assert.NoError(t, err)
	t2, err := env.Begin()
	assert.NoError(t, err)

	assert.NoError(t, db.Insert(t1, []byte("k"), []byte("1"), 0))
	err = db.Insert(t2, []byte("k"), []byte("2"), 0)
	assert.Equal(t, basic.ErrTxnConflict, errors.Cause(err))

	// once t1 is gone the key is free again
	assert.NoError(t, t1.Abort())
	assert.NoError(t, db.Insert(t2, []byte("k"), []byte("2"), 0))
	assert.NoError(t, t2.Commit())

	record, err := db.Find(nil, []byte("k"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("2"), record)
}

func TestTxnOverwrite(t *testing.T) {
	env := newTxnEnv(t)
	db, err := env.CreateDB(1, 0, nil)
	assert.NoError(t, err)

	assert.NoError(t, db.Insert(nil, []byte("k"), []byte("old"), 0))

	txn, err := env.Begin()
	assert.NoError(t, err)
	assert.NoError(t, db.Insert(txn, []byte("k"), []byte("new"), basic.InsertOverwrite))

	record, err := db.Find(txn, []byte("k"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("new"), record)
	record, err = db.Find(nil, []byte("k"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("old"), record)

	assert.NoError(t, txn.Commit())
	record, err = db.Find(nil, []byte("k"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("new"), record)
}

func TestTxnDoubleCommit(t *testing.T) {
	env := newTxnEnv(t)
	txn, err := env.Begin()
	assert.NoError(t, err)
	assert.NoError(t, txn.Commit())
	assert.Equal(t, basic.ErrInvalidTxnState, errors.Cause(txn.Commit()))
	assert.Equal(t, basic.ErrInvalidTxnState, errors.Cause(txn.Abort()))
}

func TestTxnCursorAutoClose(t *testing.T) {
	env := newTxnEnv(t)
	db, err := env.CreateDB(1, 0, nil)
	assert.NoError(t, err)

	txn, err := env.Begin()
	assert.NoError(t, err)
	cursor, err := db.Cursor(txn)
	assert.NoError(t, err)

	assert.NoError(t, txn.Commit())
	assert.True(t, cursor.closed)
}

func TestEnvCloseAbortsLiveTxns(t *testing.T) {
	env, err := Create(t.TempDir(), "env.xkv", basic.FlagEnableTransactions, nil)
	assert.NoError(t, err)
	db, err := env.CreateDB(1, 0, nil)
	assert.NoError(t, err)

	txn, err := env.Begin()
	assert.NoError(t, err)
	assert.NoError(t, db.Insert(txn, []byte("k"), []byte("v"), 0))
	assert.NoError(t, env.Close())
	assert.False(t, txn.active)
}

func TestTxnInsertDuplicateKeyChecksMergedState(t *testing.T) {
	env := newTxnEnv(t)
	db, err := env.CreateDB(1, 0, nil)
	assert.NoError(t, err)

	txn, err := env.Begin()
	assert.NoError(t, err)
	assert.NoError(t, db.Insert(txn, []byte("k"), []byte("1"), 0))
	// the same txn sees its own insert
	err = db.Insert(txn, []byte("k"), []byte("2"), 0)
	assert.Equal(t, basic.ErrDuplicateKey, errors.Cause(err))
	assert.NoError(t, txn.Commit())
}
