package basic

// Insert / erase flags.
const (
	// InsertOverwrite replaces the record (and any duplicate table) of
	// an existing key instead of failing with ErrDuplicateKey.
	InsertOverwrite uint32 = 1 << 0

	// InsertDuplicate appends another record to an existing key; the
	// database must run with FlagEnableDuplicates.
	InsertDuplicate uint32 = 1 << 1

	// EraseAllDuplicates removes the key with every duplicate it has.
	EraseAllDuplicates uint32 = 1 << 2
)
