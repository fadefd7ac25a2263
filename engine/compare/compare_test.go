package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/extkey"
	"github.com/zhukovaskychina/xkv-engine/util"
)

func TestDefaultFullCompare(t *testing.T) {
	assert.Equal(t, -1, DefaultFullCompare([]byte("abc"), []byte("abd")))
	assert.Equal(t, 1, DefaultFullCompare([]byte("abd"), []byte("abc")))
	assert.Equal(t, 0, DefaultFullCompare([]byte("abc"), []byte("abc")))
}

// the shorter key sorts greater on an equal prefix; this tiebreak is
// part of the on-disk ordering contract
func TestDefaultFullCompareShorterIsGreater(t *testing.T) {
	assert.Equal(t, 1, DefaultFullCompare([]byte("ab"), []byte("abc")))
	assert.Equal(t, -1, DefaultFullCompare([]byte("abc"), []byte("ab")))
	assert.Equal(t, 1, DefaultFullCompare([]byte(""), []byte("a")))
}

func TestDefaultPrefixCompare(t *testing.T) {
	assert.Equal(t, -1, DefaultPrefixCompare([]byte("aa"), 2, []byte("ab"), 2))
	assert.Equal(t, 0, DefaultPrefixCompare([]byte("aa"), 2, []byte("aa"), 2))
	// equal prefixes with truncated sides cannot decide
	assert.Equal(t, NeedFullKey, DefaultPrefixCompare([]byte("aa"), 10, []byte("aa"), 12))
	// both complete: the full-compare tiebreak applies directly
	assert.Equal(t, 1, DefaultPrefixCompare([]byte("aa"), 2, []byte("aab"), 3))
}

type fakeBlobs struct {
	blobs map[uint64][]byte
}

func (f *fakeBlobs) ReadBlob(blobID uint64) ([]byte, error) {
	return f.blobs[blobID], nil
}

type fakeUsage struct{ used, capacity uint64 }

func (f *fakeUsage) UsedBytes() uint64 { return f.used }
func (f *fakeUsage) Capacity() uint64  { return f.capacity }

// buildExtendedSide lays out a key slot the way a B+tree node does:
// keySize-8 prefix bytes and a trailing suffix blob offset.
func buildExtendedSide(keySize uint16, key []byte, blobID uint64) Side {
	prefixLen := int(keySize - basic.ExtendedKeyOffsetSize)
	slot := make([]byte, keySize)
	copy(slot, key[:prefixLen])
	util.WriteUB8(slot, prefixLen, blobID)
	return Side{Flags: basic.KeyFlagExtended, Data: slot, RealSize: len(key)}
}

func TestCompareExtendedKeys(t *testing.T) {
	keySize := uint16(16)
	longA := []byte("aaaaaaaazzzzzzzz-suffix-A")
	longB := []byte("aaaaaaaazzzzzzzz-suffix-B")

	blobs := &fakeBlobs{blobs: map[uint64][]byte{
		100: longA[keySize-8:],
		200: longB[keySize-8:],
	}}
	cache := extkey.NewExtKeyCache(&fakeUsage{capacity: 1 << 20})
	cmp := NewComparator(keySize, cache, blobs)

	lhs := buildExtendedSide(keySize, longA, 100)
	rhs := buildExtendedSide(keySize, longB, 200)

	r, err := cmp.Compare(lhs, rhs)
	assert.NoError(t, err)
	assert.Equal(t, -1, r)

	// the materialized keys were memoized
	assert.Equal(t, 2, cache.Len())
	cached, err := cache.Fetch(100)
	assert.NoError(t, err)
	assert.Equal(t, longA, cached)
}

func TestCompareExtendedAgainstPlain(t *testing.T) {
	keySize := uint16(16)
	long := []byte("aaaaaaaazzzzzzzz-suffix")
	blobs := &fakeBlobs{blobs: map[uint64][]byte{7: long[keySize-8:]}}
	cmp := NewComparator(keySize, nil, blobs)

	lhs := buildExtendedSide(keySize, long, 7)
	rhs := Side{Data: []byte("zzz"), RealSize: 3}

	r, err := cmp.Compare(lhs, rhs)
	assert.NoError(t, err)
	assert.Equal(t, -1, r)
}

func TestComparePrefixDecidesWithoutBlobRead(t *testing.T) {
	keySize := uint16(16)
	// prefixes differ in the first byte; the suffix blob is absent on
	// purpose, proving the prefix compare short-circuits
	lhs := buildExtendedSide(keySize, []byte("aaaaaaaaaaaaaaaa-long"), 1)
	rhs := buildExtendedSide(keySize, []byte("bbbbbbbbbbbbbbbb-long"), 2)
	cmp := NewComparator(keySize, nil, &fakeBlobs{blobs: map[uint64][]byte{}})

	r, err := cmp.Compare(lhs, rhs)
	assert.NoError(t, err)
	assert.Equal(t, -1, r)
}

func TestFullCompareForKeyType(t *testing.T) {
	u32 := FullCompareForKeyType(basic.KeyTypeUInt32)
	assert.Equal(t, -1, u32(util.ConvertUInt4Bytes(5), util.ConvertUInt4Bytes(9)))
	assert.Equal(t, 1, u32(util.ConvertUInt4Bytes(9), util.ConvertUInt4Bytes(5)))
	assert.Equal(t, 0, u32(util.ConvertUInt4Bytes(7), util.ConvertUInt4Bytes(7)))

	u64 := FullCompareForKeyType(basic.KeyTypeUInt64)
	assert.Equal(t, -1, u64(util.ConvertULong8Bytes(1), util.ConvertULong8Bytes(1<<40)))
}

func TestDecimalCompare(t *testing.T) {
	dec := FullCompareForKeyType(basic.KeyTypeDecimal)
	assert.Equal(t, -1, dec([]byte("9"), []byte("10.5")))
	assert.Equal(t, 1, dec([]byte("100"), []byte("10.5")))
	assert.Equal(t, 0, dec([]byte("1.50"), []byte("1.5")))
	// unparsable input falls back to bytewise order
	assert.Equal(t, -1, dec([]byte("abc"), []byte("abd")))
}

func TestFixedKeySizeForType(t *testing.T) {
	assert.Equal(t, uint16(4), FixedKeySizeForType(basic.KeyTypeUInt32))
	assert.Equal(t, uint16(8), FixedKeySizeForType(basic.KeyTypeReal64))
	assert.Equal(t, uint16(0), FixedKeySizeForType(basic.KeyTypeBinary))
	assert.Equal(t, uint16(0), FixedKeySizeForType(basic.KeyTypeDecimal))
}
