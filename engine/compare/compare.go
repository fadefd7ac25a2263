package compare

import (
	"bytes"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/extkey"
	"github.com/zhukovaskychina/xkv-engine/util"
)

// NeedFullKey is the sentinel a prefix compare returns when the in-node
// prefixes cannot decide the order. Any value outside {-1, 0, +1}.
const NeedFullKey = 2

// FullCompareFunc orders two complete keys.
type FullCompareFunc func(lhs []byte, rhs []byte) int

// PrefixCompareFunc orders two keys by their in-node prefixes. lhsRealSize
// and rhsRealSize are the real (full) key lengths. It returns -1/0/+1 or
// NeedFullKey.
type PrefixCompareFunc func(lhs []byte, lhsRealSize int, rhs []byte, rhsRealSize int) int

// BlobReader resolves the suffix blob of an extended key.
type BlobReader interface {
	ReadBlob(blobID uint64) ([]byte, error)
}

// Side is one operand of a comparison: the raw slot bytes plus the real
// key length and the slot flags.
type Side struct {
	Flags    uint8
	Data     []byte
	RealSize int
}

func (s Side) extended() bool {
	return s.Flags&basic.KeyFlagExtended != 0
}

/**
两阶段比较协议。先用前缀比较器在节点内的前缀上定序，拿到NeedFullKey
时才取blob拼出完整键再做全量比较。拼装结果尽量放进扩展键缓存，放不下
就算了。
**/
type Comparator struct {
	KeySize uint16

	Full   FullCompareFunc
	Prefix PrefixCompareFunc

	// ExtCache is nil for in-memory environments.
	ExtCache *extkey.ExtKeyCache
	Blobs    BlobReader
}

func NewComparator(keySize uint16, extCache *extkey.ExtKeyCache, blobs BlobReader) *Comparator {
	return &Comparator{
		KeySize:  keySize,
		Full:     DefaultFullCompare,
		Prefix:   DefaultPrefixCompare,
		ExtCache: extCache,
		Blobs:    blobs,
	}
}

// prefixSize returns how many in-node bytes of a side take part in a
// prefix compare.
func (cmp *Comparator) prefixSize(s Side) int {
	if s.extended() {
		return int(cmp.KeySize - basic.ExtendedKeyOffsetSize)
	}
	return s.RealSize
}

// Compare orders two sides, materializing extended keys only when the
// prefix compare cannot decide.
func (cmp *Comparator) Compare(lhs Side, rhs Side) (int, error) {
	if !lhs.extended() && !rhs.extended() {
		return cmp.Full(lhs.Data[:lhs.RealSize], rhs.Data[:rhs.RealSize]), nil
	}

	if cmp.Prefix != nil {
		r := cmp.Prefix(
			lhs.Data[:cmp.prefixSize(lhs)], lhs.RealSize,
			rhs.Data[:cmp.prefixSize(rhs)], rhs.RealSize)
		if r != NeedFullKey {
			return r, nil
		}
	}

	lhsKey, err := cmp.Materialize(lhs)
	if err != nil {
		return 0, errors.Trace(err)
	}
	rhsKey, err := cmp.Materialize(rhs)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return cmp.Full(lhsKey, rhsKey), nil
}

// Materialize returns the complete key bytes of a side, reassembling an
// extended key from its in-node prefix and its suffix blob.
func (cmp *Comparator) Materialize(s Side) ([]byte, error) {
	if !s.extended() {
		return s.Data[:s.RealSize], nil
	}

	prefixLen := int(cmp.KeySize - basic.ExtendedKeyOffsetSize)
	blobID := util.ReadUB8Byte2Long(s.Data[prefixLen : prefixLen+int(basic.ExtendedKeyOffsetSize)])

	if cmp.ExtCache != nil {
		if key, err := cmp.ExtCache.Fetch(blobID); err == nil {
			return key, nil
		}
	}

	suffix, err := cmp.Blobs.ReadBlob(blobID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	key := make([]byte, 0, prefixLen+len(suffix))
	key = append(key, s.Data[:prefixLen]...)
	key = append(key, suffix...)

	if cmp.ExtCache != nil {
		// best-effort: a full cache only costs us the memoization
		_ = cmp.ExtCache.Insert(blobID, key)
	}
	return key, nil
}

// DefaultFullCompare is bytewise lexicographic order with one twist
// that is part of the on-disk ordering contract: when one key is a
// prefix of the other, the shorter key sorts as the greater one.
func DefaultFullCompare(lhs []byte, rhs []byte) int {
	n := len(lhs)
	if len(rhs) < n {
		n = len(rhs)
	}
	if r := bytes.Compare(lhs[:n], rhs[:n]); r != 0 {
		return r
	}
	if len(lhs) == len(rhs) {
		return 0
	}
	if len(lhs) < len(rhs) {
		return 1
	}
	return -1
}

// DefaultPrefixCompare orders by the common prefix and asks for the
// full keys when that prefix is equal.
func DefaultPrefixCompare(lhs []byte, lhsRealSize int, rhs []byte, rhsRealSize int) int {
	n := len(lhs)
	if len(rhs) < n {
		n = len(rhs)
	}
	if r := bytes.Compare(lhs[:n], rhs[:n]); r != 0 {
		return r
	}
	// Equal so far. If both sides are complete in-node the full compare
	// tiebreak applies directly; otherwise the suffixes must decide.
	if len(lhs) == lhsRealSize && len(rhs) == rhsRealSize {
		return DefaultFullCompare(lhs[:lhsRealSize], rhs[:rhsRealSize])
	}
	return NeedFullKey
}
