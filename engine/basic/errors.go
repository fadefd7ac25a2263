package basic

import "errors"

// 资源相关错误
var (
	ErrOutOfMemory = errors.New("out of memory")
	ErrIOError     = errors.New("I/O error")
	ErrCacheFull   = errors.New("cache full")
)

// 查找相关错误
var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrKeyErasedInTxn = errors.New("key erased in transaction")
	ErrDuplicateKey   = errors.New("duplicate key")
)

// 事务相关错误
var (
	ErrTxnConflict         = errors.New("transaction conflict")
	ErrTxnNotSupported     = errors.New("transactions not enabled for this environment")
	ErrTxnStillOpen        = errors.New("transaction is still open")
	ErrInvalidTxnState     = errors.New("invalid transaction state")
	ErrCursorBoundToClosed = errors.New("cursor bound to a finished transaction")
)

// 环境与数据库相关错误
var (
	ErrDatabaseAlreadyOpen  = errors.New("database already open")
	ErrDatabaseNotFound     = errors.New("database not found")
	ErrDatabaseLimitReached = errors.New("database limit reached")
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNotImplemented       = errors.New("not implemented")
	ErrEnvCorrupted         = errors.New("environment file corrupted")
	ErrPageCorrupted        = errors.New("page corrupted")
	ErrBlobCorrupted        = errors.New("blob corrupted")
)
