package util

import "encoding/binary"

// ConvertUInt2Bytes 将uint16转换为大端字节
func ConvertUInt2Bytes(i uint16) []byte {
	buff := make([]byte, 2)
	binary.BigEndian.PutUint16(buff, i)
	return buff
}

// ConvertUInt4Bytes 将uint32转换为大端字节
func ConvertUInt4Bytes(i uint32) []byte {
	buff := make([]byte, 4)
	binary.BigEndian.PutUint32(buff, i)
	return buff
}

// ConvertULong8Bytes 将uint64转换为大端字节
func ConvertULong8Bytes(i uint64) []byte {
	buff := make([]byte, 8)
	binary.BigEndian.PutUint64(buff, i)
	return buff
}

func ReadUB2Byte2Int(buff []byte) uint16 {
	return binary.BigEndian.Uint16(buff)
}

func ReadUB4Byte2UInt32(buff []byte) uint32 {
	return binary.BigEndian.Uint32(buff)
}

func ReadUB8Byte2Long(buff []byte) uint64 {
	return binary.BigEndian.Uint64(buff)
}

// WriteUB2 在buff的指定偏移处写入uint16
func WriteUB2(buff []byte, cursor int, v uint16) int {
	binary.BigEndian.PutUint16(buff[cursor:], v)
	return cursor + 2
}

// WriteUB4 在buff的指定偏移处写入uint32
func WriteUB4(buff []byte, cursor int, v uint32) int {
	binary.BigEndian.PutUint32(buff[cursor:], v)
	return cursor + 4
}

// WriteUB8 在buff的指定偏移处写入uint64
func WriteUB8(buff []byte, cursor int, v uint64) int {
	binary.BigEndian.PutUint64(buff[cursor:], v)
	return cursor + 8
}

// ReadUB2 从buff的指定偏移处读取uint16
func ReadUB2(buff []byte, cursor int) (int, uint16) {
	return cursor + 2, binary.BigEndian.Uint16(buff[cursor:])
}

// ReadUB4 从buff的指定偏移处读取uint32
func ReadUB4(buff []byte, cursor int) (int, uint32) {
	return cursor + 4, binary.BigEndian.Uint32(buff[cursor:])
}

// ReadUB8 从buff的指定偏移处读取uint64
func ReadUB8(buff []byte, cursor int) (int, uint64) {
	return cursor + 8, binary.BigEndian.Uint64(buff[cursor:])
}

// CopyBytes returns a private copy of b.
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	dup := make([]byte, len(b))
	copy(dup, b)
	return dup
}
