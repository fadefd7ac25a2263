package basic

// Per-entry key flags stored in a B+tree node slot.
const (
	// KeyFlagExtended marks a key whose suffix lives in a blob; the
	// slot holds keySize-8 prefix bytes and a trailing blob offset.
	KeyFlagExtended uint8 = 1 << 0

	// KeyFlagDuplicates marks a key whose record field points at a
	// duplicate table blob instead of a single record.
	KeyFlagDuplicates uint8 = 1 << 1

	// KeyFlagBlobRecord marks a record stored in the blob store; the
	// record field holds the blob offset.
	KeyFlagBlobRecord uint8 = 1 << 2
)
