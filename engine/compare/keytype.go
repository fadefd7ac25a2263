package compare

import (
	"bytes"
	"math"

	"github.com/shopspring/decimal"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/util"
)

// FullCompareForKeyType returns the full-compare function a database's
// declared key type installs. KeyTypeCustom keeps whatever the user set.
func FullCompareForKeyType(kt basic.KeyType) FullCompareFunc {
	switch kt {
	case basic.KeyTypeUInt8:
		return compareUInt8
	case basic.KeyTypeUInt16:
		return compareUInt16
	case basic.KeyTypeUInt32:
		return compareUInt32
	case basic.KeyTypeUInt64:
		return compareUInt64
	case basic.KeyTypeReal32:
		return compareReal32
	case basic.KeyTypeReal64:
		return compareReal64
	case basic.KeyTypeDecimal:
		return compareDecimal
	default:
		return DefaultFullCompare
	}
}

// FixedKeySizeForType returns the mandatory key size of a fixed-width
// key type, or 0 when the type is variable length.
func FixedKeySizeForType(kt basic.KeyType) uint16 {
	switch kt {
	case basic.KeyTypeUInt8:
		return 1
	case basic.KeyTypeUInt16:
		return 2
	case basic.KeyTypeUInt32:
		return 4
	case basic.KeyTypeUInt64:
		return 8
	case basic.KeyTypeReal32:
		return 4
	case basic.KeyTypeReal64:
		return 8
	default:
		return 0
	}
}

func compareUInt8(lhs []byte, rhs []byte) int {
	if len(lhs) < 1 || len(rhs) < 1 {
		return DefaultFullCompare(lhs, rhs)
	}
	return compareOrdered(uint64(lhs[0]), uint64(rhs[0]))
}

func compareUInt16(lhs []byte, rhs []byte) int {
	if len(lhs) < 2 || len(rhs) < 2 {
		return DefaultFullCompare(lhs, rhs)
	}
	return compareOrdered(uint64(util.ReadUB2Byte2Int(lhs)), uint64(util.ReadUB2Byte2Int(rhs)))
}

func compareUInt32(lhs []byte, rhs []byte) int {
	if len(lhs) < 4 || len(rhs) < 4 {
		return DefaultFullCompare(lhs, rhs)
	}
	return compareOrdered(uint64(util.ReadUB4Byte2UInt32(lhs)), uint64(util.ReadUB4Byte2UInt32(rhs)))
}

func compareUInt64(lhs []byte, rhs []byte) int {
	if len(lhs) < 8 || len(rhs) < 8 {
		return DefaultFullCompare(lhs, rhs)
	}
	return compareOrdered(util.ReadUB8Byte2Long(lhs), util.ReadUB8Byte2Long(rhs))
}

func compareReal32(lhs []byte, rhs []byte) int {
	if len(lhs) < 4 || len(rhs) < 4 {
		return DefaultFullCompare(lhs, rhs)
	}
	lv := math.Float32frombits(util.ReadUB4Byte2UInt32(lhs))
	rv := math.Float32frombits(util.ReadUB4Byte2UInt32(rhs))
	return compareFloat(float64(lv), float64(rv))
}

func compareReal64(lhs []byte, rhs []byte) int {
	if len(lhs) < 8 || len(rhs) < 8 {
		return DefaultFullCompare(lhs, rhs)
	}
	lv := math.Float64frombits(util.ReadUB8Byte2Long(lhs))
	rv := math.Float64frombits(util.ReadUB8Byte2Long(rhs))
	return compareFloat(lv, rv)
}

// compareDecimal treats keys as ASCII decimal strings. Keys that do not
// parse fall back to bytewise order so the tree order stays total.
func compareDecimal(lhs []byte, rhs []byte) int {
	lv, lerr := decimal.NewFromString(string(bytes.TrimSpace(lhs)))
	rv, rerr := decimal.NewFromString(string(bytes.TrimSpace(rhs)))
	if lerr != nil || rerr != nil {
		return DefaultFullCompare(lhs, rhs)
	}
	return lv.Cmp(rv)
}

func compareOrdered(lv uint64, rv uint64) int {
	switch {
	case lv < rv:
		return -1
	case lv > rv:
		return 1
	default:
		return 0
	}
}

func compareFloat(lv float64, rv float64) int {
	switch {
	case lv < rv:
		return -1
	case lv > rv:
		return 1
	default:
		return 0
	}
}
