package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/zhukovaskychina/xkv-engine/conf"
	"github.com/zhukovaskychina/xkv-engine/engine"
	"github.com/zhukovaskychina/xkv-engine/logger"
)

var (
	configPath string
	inputPath  string
)

var rootCmd = &cobra.Command{
	Use:   "xkvload <target-environment-file>",
	Short: "Replay an xkvdump stream into a fresh environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: configPath})
		if err := logger.InitLogger(logger.LogConfig{
			ErrorLogPath: cfg.LogError,
			InfoLogPath:  cfg.LogInfos,
			LogLevel:     cfg.LogLevel,
		}); err != nil {
			return errors.Wrap(err, "init logger")
		}

		in := os.Stdin
		if inputPath != "" {
			f, err := os.Open(inputPath)
			if err != nil {
				return errors.Wrapf(err, "open %s", inputPath)
			}
			defer f.Close()
			in = f
		}

		dir, file := filepath.Split(args[0])
		if dir == "" {
			dir = "."
		}
		env, err := engine.Import(in, dir, file)
		if err != nil {
			return errors.Wrap(err, "import")
		}
		if err := env.Close(); err != nil {
			return errors.Wrap(err, "close environment")
		}
		logger.Infof("environment %s loaded", args[0])
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the xkv.ini configuration")
	rootCmd.Flags().StringVarP(&inputPath, "input", "i", "", "read the dump from here instead of stdin")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
