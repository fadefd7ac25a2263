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
	outputPath string
)

var rootCmd = &cobra.Command{
	Use:   "xkvdump <environment-file>",
	Short: "Export an xkv environment as a tagged record stream",
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

		dir, file := filepath.Split(args[0])
		if dir == "" {
			dir = "."
		}
		env, err := engine.Open(dir, file, 0, &engine.EnvConfig{CacheCapacity: cfg.CacheSize})
		if err != nil {
			return errors.Wrapf(err, "open environment %s", args[0])
		}
		defer env.Close()

		out := os.Stdout
		if outputPath != "" {
			f, err := os.Create(outputPath)
			if err != nil {
				return errors.Wrapf(err, "create %s", outputPath)
			}
			defer f.Close()
			out = f
		}

		if err := env.Export(out); err != nil {
			return errors.Wrap(err, "export")
		}
		logger.Infof("environment %s exported", args[0])
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the xkv.ini configuration")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the dump here instead of stdout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
