package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

var ConfigPath string

type CommandLineArgs struct {
	ConfigPath string
}

/**
[engine]
data_dir	= /var/lib/xkv
page_size	= 4096
cache_size	= 262144
max_databases	= 16
write_through	= false
use_mmap	= false

[log]
level		= info
info_log	= /var/log/xkv/xkv.log
error_log	= /var/log/xkv/xkv-error.log
*/
type Cfg struct {
	Raw *ini.File

	DataDir      string
	PageSize     uint32
	CacheSize    uint64
	MaxDatabases uint32
	WriteThrough bool
	UseMmap      bool
	EnableTxn    bool

	LogLevel string
	LogInfos string
	LogError string
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:          ini.Empty(),
		DataDir:      ".",
		PageSize:     4096,
		CacheSize:    262144,
		MaxDatabases: 16,
		LogLevel:     "info",
	}
}

func (cfg *Cfg) Load(args *CommandLineArgs) *Cfg {
	iniFile, err := cfg.loadConfiguration(args)
	if err != nil {
		fmt.Println("failed to load configuration", err)
		os.Exit(1)
	}
	cfg.Raw = iniFile

	cfg.parseEngineCfg(cfg.Raw.Section("engine"))
	cfg.parseLogCfg(cfg.Raw.Section("log"))
	return cfg
}

func (cfg *Cfg) loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	if args.ConfigPath == "" {
		return ini.Empty(), nil
	}
	ConfigPath = args.ConfigPath
	if _, err := os.Stat(ConfigPath); err != nil {
		return nil, err
	}
	iniFile, err := ini.Load(ConfigPath)
	if err != nil {
		return nil, err
	}
	return iniFile, nil
}

func (cfg *Cfg) parseEngineCfg(section *ini.Section) {
	cfg.DataDir = section.Key("data_dir").MustString(cfg.DataDir)
	cfg.PageSize = uint32(section.Key("page_size").MustUint(uint(cfg.PageSize)))
	cfg.CacheSize = section.Key("cache_size").MustUint64(cfg.CacheSize)
	cfg.MaxDatabases = uint32(section.Key("max_databases").MustUint(uint(cfg.MaxDatabases)))
	cfg.WriteThrough = section.Key("write_through").MustBool(false)
	cfg.UseMmap = section.Key("use_mmap").MustBool(false)
	cfg.EnableTxn = section.Key("enable_transactions").MustBool(false)

	if cfg.DataDir != "" {
		if abs, err := filepath.Abs(cfg.DataDir); err == nil {
			cfg.DataDir = abs
		}
	}
}

func (cfg *Cfg) parseLogCfg(section *ini.Section) {
	cfg.LogLevel = section.Key("level").MustString(cfg.LogLevel)
	cfg.LogInfos = section.Key("info_log").MustString("")
	cfg.LogError = section.Key("error_log").MustString("")
}
