// fieldstore serves and administers a field metadata index
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"github.com/nainya/fieldstore/internal/config"
	"github.com/nainya/fieldstore/internal/logger"
	"github.com/nainya/fieldstore/pkg/index"
	"github.com/nainya/fieldstore/pkg/storage"
)

var (
	rootCmd = &cobra.Command{
		Use:           "fieldstore",
		Short:         "Field metadata index server and admin tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	configFile string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (yaml, toml or json)")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd, upgradeCmd, fieldsCmd, settingsCmd, addCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration for cmd and builds its logger
func loadConfig(cmd *cobra.Command) (config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.NewLogger(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})
	return cfg, log, nil
}

// withIndex opens the configured index for the duration of fn
func withIndex(cmd *cobra.Command, fn func(cfg config.Config, log *logger.Logger, ix *index.Index) error) (err error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	env, err := storage.Open(cfg.DBPath, nil)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, env.Close()) }()

	ix, created, err := index.OpenOrCreate(env)
	if err != nil {
		return err
	}
	if created {
		log.Info("Created new index").Str("database", cfg.DBPath).Send()
	}
	return fn(cfg, log, ix)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
