package engine

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
)

// scenario: export, import into an empty environment, byte-identical
// key and record sets
func TestExportImportRoundTrip(t *testing.T) {
	env, err := Create(t.TempDir(), "src.xkv", 0, nil)
	assert.NoError(t, err)

	plain, err := env.CreateDB(1, 0, nil)
	assert.NoError(t, err)
	for i := 0; i < 300; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		assert.NoError(t, plain.Insert(nil, key, bytes.Repeat(key, 3), 0))
	}

	dupes, err := env.CreateDB(2, basic.FlagEnableDuplicates, nil)
	assert.NoError(t, err)
	assert.NoError(t, dupes.Insert(nil, []byte("d"), []byte("one"), basic.InsertDuplicate))
	assert.NoError(t, dupes.Insert(nil, []byte("d"), []byte("two"), basic.InsertDuplicate))

	var dumpBuf bytes.Buffer
	assert.NoError(t, env.Export(&dumpBuf))
	assert.NoError(t, env.Close())

	restored, err := Import(bytes.NewReader(dumpBuf.Bytes()), t.TempDir(), "dst.xkv")
	assert.NoError(t, err)
	defer restored.Close()

	assert.ElementsMatch(t, []uint16{1, 2}, restored.DatabaseNames())

	db, err := restored.OpenDB(1)
	assert.NoError(t, err)
	for i := 0; i < 300; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		record, err := db.Find(nil, key)
		assert.NoError(t, err)
		assert.Equal(t, bytes.Repeat(key, 3), record)
	}

	db2, err := restored.OpenDB(2)
	assert.NoError(t, err)
	cursor, err := db2.Cursor(nil)
	assert.NoError(t, err)
	defer cursor.Close()

	var records []string
	flags := basic.CursorFirst
	for {
		_, record, err := cursor.Move(flags)
		if errors.Cause(err) == basic.ErrKeyNotFound {
			break
		}
		assert.NoError(t, err)
		records = append(records, string(record))
		flags = basic.CursorNext
	}
	assert.Equal(t, []string{"one", "two"}, records)
}

func TestImportEmptyStream(t *testing.T) {
	_, err := Import(bytes.NewReader(nil), t.TempDir(), "dst.xkv")
	assert.Error(t, err)
}
