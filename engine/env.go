package engine

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xkv-engine/conf"
	"github.com/zhukovaskychina/xkv-engine/engine/basic"
	"github.com/zhukovaskychina/xkv-engine/engine/buffer"
	"github.com/zhukovaskychina/xkv-engine/engine/device"
	"github.com/zhukovaskychina/xkv-engine/engine/extkey"
	"github.com/zhukovaskychina/xkv-engine/engine/freelist"
	"github.com/zhukovaskychina/xkv-engine/logger"
	"github.com/zhukovaskychina/xkv-engine/util"
)

const (
	envHeaderFixedSize = 24
	dbSlotSize         = 24
)

// EnvConfig carries the tunables of a new environment; zero values fall
// back to the engine defaults.
type EnvConfig struct {
	PageSize      uint32
	CacheCapacity uint64
	MaxDatabases  uint32
}

func (cfg *EnvConfig) withDefaults() EnvConfig {
	out := EnvConfig{}
	if cfg != nil {
		out = *cfg
	}
	if out.PageSize == 0 {
		out.PageSize = basic.DefaultPageSize
	}
	if out.CacheCapacity == 0 {
		out.CacheCapacity = basic.DefaultCacheCapacity
	}
	if out.MaxDatabases == 0 {
		out.MaxDatabases = basic.DefaultMaxDatabases
	}
	return out
}

/**
环境。一个文件一个环境：第0页是环境头(magic、版本、页大小、数据库表、
freelist根)，其余页面归各数据库的B+树、freelist和blob。环境头不走页
缓存，由env直接持有缓冲区并定位写回，避免和缓存的占位约定打架。
**/
type Environment struct {
	dir      string
	fileName string
	flags    uint32

	pageSize      uint32
	maxDatabases  uint32
	cacheCapacity uint64

	dev      device.Device
	cache    *buffer.Cache
	fl       *freelist.Freelist
	pm       *PageManager
	blobs    *BlobStore
	extCache *extkey.ExtKeyCache

	headerBuf []byte

	databases []*Database

	liveTxns  map[*Txn]struct{}
	txnSerial uint64

	closed bool
}

// Create builds a fresh environment file (or a pure in-memory arena
// when FlagInMemoryDB is set).
func Create(dir string, fileName string, flags uint32, cfg *EnvConfig) (*Environment, error) {
	if flags&basic.FlagUseHash != 0 {
		return nil, errors.Annotate(basic.ErrInvalidParameter, "hash indexes are not supported")
	}
	resolved := cfg.withDefaults()

	env := &Environment{
		dir:           dir,
		fileName:      fileName,
		flags:         flags,
		pageSize:      resolved.PageSize,
		maxDatabases:  resolved.MaxDatabases,
		cacheCapacity: resolved.CacheCapacity,
		liveTxns:      make(map[*Txn]struct{}),
	}
	env.databases = make([]*Database, env.maxDatabases)

	if flags&basic.FlagInMemoryDB != 0 {
		env.cache = buffer.NewCache(nil, env.pageSize, env.cacheCapacity)
		env.pm = NewPageManager(nil, env.cache, nil, env.pageSize, flags)
		env.blobs = NewBlobStore(nil, nil, env.pageSize, flags)
		env.headerBuf = make([]byte, env.pageSize)
		env.writeHeaderFields()
		return env, nil
	}

	env.dev = newDevice(dir, fileName, flags)
	if err := env.dev.Create(); err != nil {
		return nil, errors.Trace(err)
	}

	env.cache = buffer.NewCache(env.dev, env.pageSize, env.cacheCapacity)
	env.fl = freelist.New()
	env.pm = NewPageManager(env.dev, env.cache, env.fl, env.pageSize, flags)
	env.blobs = NewBlobStore(env.dev, env.fl, env.pageSize, flags)
	env.extCache = extkey.NewExtKeyCache(env.cache)

	env.headerBuf = make([]byte, env.pageSize)
	util.WriteUB4(env.headerBuf, 0, uint32(basic.PageTypeHeader))
	env.writeHeaderFields()
	if err := env.writeHeader(); err != nil {
		return nil, errors.Trace(err)
	}
	logger.Infof("environment created: %s/%s page_size=%d cache=%d", dir, fileName, env.pageSize, env.cacheCapacity)
	return env, nil
}

// Open loads an existing environment file.
func Open(dir string, fileName string, flags uint32, cfg *EnvConfig) (*Environment, error) {
	if flags&basic.FlagUseHash != 0 {
		return nil, errors.Annotate(basic.ErrInvalidParameter, "hash indexes are not supported")
	}
	if flags&basic.FlagInMemoryDB != 0 {
		return nil, errors.Annotate(basic.ErrInvalidParameter, "an in-memory environment cannot be opened from a file")
	}
	resolved := cfg.withDefaults()

	env := &Environment{
		dir:           dir,
		fileName:      fileName,
		flags:         flags,
		cacheCapacity: resolved.CacheCapacity,
		liveTxns:      make(map[*Txn]struct{}),
	}

	env.dev = newDevice(dir, fileName, flags)
	if err := env.dev.Open(); err != nil {
		return nil, errors.Trace(err)
	}

	// the fixed header fields sit in the first page; read a minimal
	// prefix first to learn the real page size
	probe := make([]byte, basic.PersistentHeaderSize+envHeaderFixedSize)
	if err := env.dev.Read(0, probe); err != nil {
		return nil, errors.Trace(err)
	}
	at := int(basic.PersistentHeaderSize)
	if util.ReadUB4Byte2UInt32(probe[at:at+4]) != basic.MagicNumber {
		return nil, errors.Annotatef(basic.ErrEnvCorrupted, "%s/%s: bad magic", dir, fileName)
	}
	if util.ReadUB4Byte2UInt32(probe[at+4:at+8]) != basic.Version {
		return nil, errors.Annotatef(basic.ErrEnvCorrupted, "%s/%s: unsupported version", dir, fileName)
	}
	env.pageSize = util.ReadUB4Byte2UInt32(probe[at+8 : at+12])
	env.maxDatabases = util.ReadUB4Byte2UInt32(probe[at+12 : at+16])
	freelistRoot := util.ReadUB8Byte2Long(probe[at+16 : at+24])

	env.headerBuf = make([]byte, env.pageSize)
	if err := env.dev.Read(0, env.headerBuf); err != nil {
		return nil, errors.Trace(err)
	}

	env.databases = make([]*Database, env.maxDatabases)
	env.cache = buffer.NewCache(env.dev, env.pageSize, env.cacheCapacity)
	env.fl = freelist.New()
	env.pm = NewPageManager(env.dev, env.cache, env.fl, env.pageSize, flags)
	env.blobs = NewBlobStore(env.dev, env.fl, env.pageSize, flags)
	env.extCache = extkey.NewExtKeyCache(env.cache)

	if freelistRoot != 0 {
		if err := env.fl.Load(env.pm, freelistRoot); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return env, nil
}

// NewEnvironmentFromConfig builds an environment out of an ini-loaded
// engine configuration.
func NewEnvironmentFromConfig(cfg *conf.Cfg, fileName string, create bool) (*Environment, error) {
	var flags uint32
	if cfg.WriteThrough {
		flags |= basic.FlagWriteThrough
	}
	if cfg.UseMmap {
		flags |= basic.FlagUseMmap
	}
	if cfg.EnableTxn {
		flags |= basic.FlagEnableTransactions
	}
	envCfg := &EnvConfig{
		PageSize:      cfg.PageSize,
		CacheCapacity: cfg.CacheSize,
		MaxDatabases:  cfg.MaxDatabases,
	}
	if create {
		return Create(cfg.DataDir, fileName, flags, envCfg)
	}
	return Open(cfg.DataDir, fileName, flags, envCfg)
}

func newDevice(dir string, fileName string, flags uint32) device.Device {
	if flags&basic.FlagUseMmap != 0 {
		return device.NewMmapDevice(dir, fileName)
	}
	return device.NewFileDevice(dir, fileName)
}

func (env *Environment) writeHeaderFields() {
	at := int(basic.PersistentHeaderSize)
	util.WriteUB4(env.headerBuf, at, basic.MagicNumber)
	util.WriteUB4(env.headerBuf, at+4, basic.Version)
	util.WriteUB4(env.headerBuf, at+8, env.pageSize)
	util.WriteUB4(env.headerBuf, at+12, env.maxDatabases)
	if env.fl != nil {
		util.WriteUB8(env.headerBuf, at+16, env.fl.Root())
	}
}

func (env *Environment) writeHeader() error {
	if env.flags&basic.FlagInMemoryDB != 0 {
		return nil
	}
	return errors.Trace(env.dev.Write(0, env.headerBuf))
}

// dbSlotOffset locates a database table slot inside the header buffer.
func (env *Environment) dbSlotOffset(slot int) int {
	return int(basic.PersistentHeaderSize) + envHeaderFixedSize + slot*dbSlotSize
}

func (env *Environment) readDBSlot(slot int) (name uint16, dbFlags uint32, keySize uint16, keyType basic.KeyType, recordSize uint32, root uint64) {
	at := env.dbSlotOffset(slot)
	buf := env.headerBuf
	name = util.ReadUB2Byte2Int(buf[at : at+2])
	keySize = util.ReadUB2Byte2Int(buf[at+2 : at+4])
	keyType = basic.KeyType(util.ReadUB2Byte2Int(buf[at+4 : at+6]))
	dbFlags = util.ReadUB4Byte2UInt32(buf[at+8 : at+12])
	recordSize = util.ReadUB4Byte2UInt32(buf[at+12 : at+16])
	root = util.ReadUB8Byte2Long(buf[at+16 : at+24])
	return
}

func (env *Environment) writeDBSlot(slot int, name uint16, dbFlags uint32, keySize uint16, keyType basic.KeyType, recordSize uint32, root uint64) {
	at := env.dbSlotOffset(slot)
	buf := env.headerBuf
	util.WriteUB2(buf, at, name)
	util.WriteUB2(buf, at+2, keySize)
	util.WriteUB2(buf, at+4, uint16(keyType))
	util.WriteUB2(buf, at+6, 0)
	util.WriteUB4(buf, at+8, dbFlags)
	util.WriteUB4(buf, at+12, recordSize)
	util.WriteUB8(buf, at+16, root)
}

// findDBSlot locates the slot of a database name, or a free slot when
// name is absent (second return).
func (env *Environment) findDBSlot(name uint16) (int, int) {
	found, free := -1, -1
	for slot := 0; slot < int(env.maxDatabases); slot++ {
		slotName, _, _, _, _, _ := env.readDBSlot(slot)
		if slotName == name {
			found = slot
		}
		if slotName == 0 && free < 0 {
			free = slot
		}
	}
	return found, free
}

func (env *Environment) Flags() uint32 {
	return env.flags
}

func (env *Environment) PageSize() uint32 {
	return env.pageSize
}

func (env *Environment) MaxDatabases() uint32 {
	return env.maxDatabases
}

// Cache exposes the page cache for inspection.
func (env *Environment) Cache() *buffer.Cache {
	return env.cache
}

// ExtKeyCache exposes the extended key cache for inspection; nil in an
// in-memory environment.
func (env *Environment) ExtKeyCache() *extkey.ExtKeyCache {
	return env.extCache
}

// DatabaseNames lists the databases recorded in the header.
func (env *Environment) DatabaseNames() []uint16 {
	var names []uint16
	for slot := 0; slot < int(env.maxDatabases); slot++ {
		name, _, _, _, _, _ := env.readDBSlot(slot)
		if name != 0 {
			names = append(names, name)
		}
	}
	return names
}

// Flush persists dirty state without closing: pages, freelist, header.
func (env *Environment) Flush() error {
	if env.flags&basic.FlagInMemoryDB != 0 {
		return nil
	}
	if err := env.pm.FlushAll(nil, 0); err != nil {
		return errors.Trace(err)
	}
	if _, err := env.fl.Flush(env.pm); err != nil {
		return errors.Trace(err)
	}
	// freelist flushing dirties pages of its own
	if err := env.cache.FlushAll(); err != nil {
		return errors.Trace(err)
	}
	env.writeHeaderFields()
	if err := env.writeHeader(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(env.dev.Flush())
}

// Close aborts leftover transactions, closes every database and
// persists the environment.
func (env *Environment) Close() error {
	if env.closed {
		return nil
	}

	for txn := range env.liveTxns {
		logger.Warnf("aborting transaction %d left open at environment close", txn.id)
		if err := txn.Abort(); err != nil {
			return errors.Trace(err)
		}
	}

	for _, db := range env.databases {
		if db != nil {
			if err := db.Close(); err != nil {
				return errors.Trace(err)
			}
		}
	}

	if env.flags&basic.FlagInMemoryDB == 0 {
		if err := env.Flush(); err != nil {
			return errors.Trace(err)
		}
	}
	if err := env.pm.Close(); err != nil {
		return errors.Trace(err)
	}
	if env.dev != nil {
		if err := env.dev.Close(); err != nil {
			return errors.Trace(err)
		}
	}
	env.closed = true
	return nil
}
