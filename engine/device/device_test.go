package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileDeviceCreateWriteRead(t *testing.T) {
	dir := t.TempDir()
	dev := NewFileDevice(dir, "test.xkv")
	assert.NoError(t, dev.Create())
	defer dev.Close()

	data := []byte("hello paged world")
	assert.NoError(t, dev.Write(4096, data))

	out := make([]byte, len(data))
	assert.NoError(t, dev.Read(4096, out))
	assert.Equal(t, data, out)

	size, err := dev.FileSize()
	assert.NoError(t, err)
	assert.Equal(t, uint64(4096+len(data)), size)
}

func TestFileDeviceTruncate(t *testing.T) {
	dir := t.TempDir()
	dev := NewFileDevice(dir, "test.xkv")
	assert.NoError(t, dev.Create())
	defer dev.Close()

	assert.NoError(t, dev.Truncate(8192))
	size, err := dev.FileSize()
	assert.NoError(t, err)
	assert.Equal(t, uint64(8192), size)

	// the extension reads back as zeroes
	out := make([]byte, 16)
	assert.NoError(t, dev.Read(8176, out))
	assert.Equal(t, make([]byte, 16), out)
}

func TestFileDeviceOpenMissing(t *testing.T) {
	dev := NewFileDevice(t.TempDir(), "missing.xkv")
	assert.Error(t, dev.Open())
}

func TestFileDeviceReopen(t *testing.T) {
	dir := t.TempDir()
	dev := NewFileDevice(dir, "test.xkv")
	assert.NoError(t, dev.Create())
	assert.NoError(t, dev.Write(0, []byte{1, 2, 3, 4}))
	assert.NoError(t, dev.Close())

	dev2 := NewFileDevice(dir, "test.xkv")
	assert.NoError(t, dev2.Open())
	defer dev2.Close()
	out := make([]byte, 4)
	assert.NoError(t, dev2.Read(0, out))
	assert.Equal(t, []byte{1, 2, 3, 4}, out)
}

func TestMmapDeviceMapRegion(t *testing.T) {
	dir := t.TempDir()
	dev := NewMmapDevice(dir, "test.xkv")
	assert.NoError(t, dev.Create())
	defer dev.Close()

	assert.NoError(t, dev.Truncate(8192))
	assert.NoError(t, dev.Write(4096, []byte("mapped")))

	buf, err := dev.MapRegion(4096, 4096)
	assert.NoError(t, err)
	assert.Equal(t, []byte("mapped"), buf[:6])
	assert.True(t, dev.IsMapped())
	assert.NoError(t, dev.UnmapRegion(buf))
}
