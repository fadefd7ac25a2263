package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertUInt4Bytes(t *testing.T) {
	buff := ConvertUInt4Bytes(0xDEADBEEF)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, buff)
	assert.Equal(t, uint32(0xDEADBEEF), ReadUB4Byte2UInt32(buff))
}

func TestConvertUInt2Bytes(t *testing.T) {
	buff := ConvertUInt2Bytes(0x1234)
	assert.Equal(t, []byte{0x12, 0x34}, buff)
	assert.Equal(t, uint16(0x1234), ReadUB2Byte2Int(buff))
}

func TestConvertULong8Bytes(t *testing.T) {
	buff := ConvertULong8Bytes(0x0102030405060708)
	assert.Equal(t, uint64(0x0102030405060708), ReadUB8Byte2Long(buff))
}

func TestWriteReadAtCursor(t *testing.T) {
	buff := make([]byte, 14)
	cursor := 0
	cursor = WriteUB2(buff, cursor, 7)
	cursor = WriteUB4(buff, cursor, 1024)
	cursor = WriteUB8(buff, cursor, 1<<40)
	assert.Equal(t, 14, cursor)

	cursor = 0
	var v2 uint16
	var v4 uint32
	var v8 uint64
	cursor, v2 = ReadUB2(buff, cursor)
	cursor, v4 = ReadUB4(buff, cursor)
	cursor, v8 = ReadUB8(buff, cursor)
	assert.Equal(t, 14, cursor)
	assert.Equal(t, uint16(7), v2)
	assert.Equal(t, uint32(1024), v4)
	assert.Equal(t, uint64(1<<40), v8)
}

func TestCopyBytes(t *testing.T) {
	src := []byte{1, 2, 3}
	dup := CopyBytes(src)
	assert.Equal(t, src, dup)
	dup[0] = 9
	assert.Equal(t, byte(1), src[0])
	assert.Nil(t, CopyBytes(nil))
}
