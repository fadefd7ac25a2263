package dump

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDumpStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	assert.NoError(t, w.WriteEnvironment(EnvironmentRecord{Flags: 8, PageSize: 4096, MaxDatabases: 16}))
	assert.NoError(t, w.WriteDatabase(DatabaseRecord{Name: 1, Flags: 256, KeySize: 21, KeyType: 0, RecordSize: 0}))
	assert.NoError(t, w.WriteItem([]byte("key-1"), []byte("record-1")))
	assert.NoError(t, w.WriteItem([]byte("key-2"), nil))

	r := NewReader(&buf)

	tag, value, err := r.Next()
	assert.NoError(t, err)
	assert.Equal(t, TagEnvironment, tag)
	env := value.(EnvironmentRecord)
	assert.Equal(t, uint32(8), env.Flags)
	assert.Equal(t, uint32(4096), env.PageSize)
	assert.Equal(t, uint32(16), env.MaxDatabases)

	tag, value, err = r.Next()
	assert.NoError(t, err)
	assert.Equal(t, TagDatabase, tag)
	db := value.(DatabaseRecord)
	assert.Equal(t, uint16(1), db.Name)
	assert.Equal(t, uint32(256), db.Flags)
	assert.Equal(t, uint16(21), db.KeySize)

	tag, value, err = r.Next()
	assert.NoError(t, err)
	assert.Equal(t, TagItem, tag)
	item := value.(ItemRecord)
	assert.Equal(t, []byte("key-1"), item.Key)
	assert.Equal(t, []byte("record-1"), item.Record)

	tag, value, err = r.Next()
	assert.NoError(t, err)
	assert.Equal(t, TagItem, tag)
	item = value.(ItemRecord)
	assert.Equal(t, []byte("key-2"), item.Key)
	assert.Empty(t, item.Record)

	_, _, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDumpItemFingerprintVerified(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	assert.NoError(t, w.WriteItem([]byte("key"), []byte("record")))

	// flip one key byte behind the writer's back
	raw := buf.Bytes()
	raw[5+4] ^= 0xFF

	r := NewReader(bytes.NewReader(raw))
	_, _, err := r.Next()
	assert.Error(t, err)
}

func TestDumpUnknownTag(t *testing.T) {
	var buf bytes.Buffer
	head := []byte{0, 0, 0, 0, 9}
	buf.Write(head)

	r := NewReader(&buf)
	_, _, err := r.Next()
	assert.Error(t, err)
}
