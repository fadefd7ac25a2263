package basic

// Environment flags.
const (
	// FlagInMemoryDB keeps every page and blob arena-resident; the
	// environment never touches the file system.
	FlagInMemoryDB uint32 = 1 << 0

	// FlagUseMmap reads pages through a memory map instead of positional
	// reads; page buffers alias the map.
	FlagUseMmap uint32 = 1 << 1

	// FlagWriteThrough flushes a dirty page on every cache put.
	FlagWriteThrough uint32 = 1 << 2

	// FlagEnableTransactions allows Begin/Commit/Abort and the
	// txn-coupled cursor mode.
	FlagEnableTransactions uint32 = 1 << 3

	// FlagUseHash is reserved; the backend factory rejects it.
	FlagUseHash uint32 = 1 << 4
)

// Database flags.
const (
	// FlagEnableDuplicates allows multiple records per key.
	FlagEnableDuplicates uint32 = 1 << 8

	// FlagRecordCompressionLZ4 compresses record payloads with LZ4
	// before they reach the blob store.
	FlagRecordCompressionLZ4 uint32 = 1 << 9

	// FlagRecordCompressionSnappy compresses record payloads with snappy.
	FlagRecordCompressionSnappy uint32 = 1 << 10
)

// Cursor move flags.
const (
	CursorFirst uint32 = 1 << 0
	CursorLast  uint32 = 1 << 1
	CursorNext  uint32 = 1 << 2
	CursorPrev  uint32 = 1 << 3

	CursorSkipDuplicates uint32 = 1 << 4
	CursorOnlyDuplicates uint32 = 1 << 5
)

// Page types persisted in the page header.
type PageType uint32

const (
	PageTypeUndefined PageType = iota
	PageTypeHeader
	PageTypeBRoot
	PageTypeBIndex
	PageTypeFreelist
	PageTypeBlob
)

// Fetch / alloc / flush flags for the paged file manager.
const (
	// FetchOnlyFromCache turns a cache miss into ErrKeyNotFound instead
	// of reading the device.
	FetchOnlyFromCache uint32 = 1 << 0

	// AllocIgnoreFreelist always extends the file instead of consulting
	// the freelist. Freelist pages themselves are allocated this way.
	AllocIgnoreFreelist uint32 = 1 << 1

	// AllocClearWithZero zeroes the whole page payload, not only the
	// header.
	AllocClearWithZero uint32 = 1 << 2
)

// Key types recorded per database; they select the installed comparator.
type KeyType uint16

const (
	KeyTypeBinary KeyType = iota
	KeyTypeCustom
	KeyTypeUInt8
	KeyTypeUInt16
	KeyTypeUInt32
	KeyTypeUInt64
	KeyTypeReal32
	KeyTypeReal64
	KeyTypeDecimal
)

// Engine-wide defaults.
const (
	DefaultPageSize      uint32 = 4096
	DefaultCacheCapacity uint64 = 262144
	DefaultMaxDatabases  uint32 = 16
	DefaultKeySize       uint16 = 21

	// PersistentHeaderSize is the byte span of the page header every
	// on-disk page carries before its payload.
	PersistentHeaderSize uint32 = 16

	// ExtendedKeyOffsetSize is the width of the trailing blob offset in
	// an extended key slot.
	ExtendedKeyOffsetSize uint16 = 8
)

// MagicNumber tags the environment header page ("XKV1").
const MagicNumber uint32 = 0x584B5631

// Version of the on-disk format.
const Version uint32 = 1
