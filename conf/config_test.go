package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := NewCfg().Load(&CommandLineArgs{})
	assert.Equal(t, uint32(4096), cfg.PageSize)
	assert.Equal(t, uint64(262144), cfg.CacheSize)
	assert.Equal(t, uint32(16), cfg.MaxDatabases)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.WriteThrough)
}

func TestLoadFromIniFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xkv.ini")
	content := `[engine]
data_dir = ` + dir + `
page_size = 8192
cache_size = 1048576
max_databases = 32
write_through = true
use_mmap = true
enable_transactions = true

[log]
level = debug
info_log = /tmp/xkv.log
`
	assert.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
	assert.Equal(t, uint32(8192), cfg.PageSize)
	assert.Equal(t, uint64(1048576), cfg.CacheSize)
	assert.Equal(t, uint32(32), cfg.MaxDatabases)
	assert.True(t, cfg.WriteThrough)
	assert.True(t, cfg.UseMmap)
	assert.True(t, cfg.EnableTxn)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/xkv.log", cfg.LogInfos)
	assert.Equal(t, dir, cfg.DataDir)
}
