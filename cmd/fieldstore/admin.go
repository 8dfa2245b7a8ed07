package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nainya/fieldstore/internal/config"
	"github.com/nainya/fieldstore/internal/logger"
	"github.com/nainya/fieldstore/pkg/index"
	"github.com/nainya/fieldstore/pkg/progress"
	"github.com/nainya/fieldstore/pkg/upgrade"
	"github.com/nainya/fieldstore/pkg/version"
)

var (
	upgradeCmd = &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade the index to the current format version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndex(cmd, func(_ config.Config, log *logger.Logger, ix *index.Index) error {
				pipeline := upgrade.Default()
				pipeline.Log = log

				res, err := pipeline.Run(cmd.Context(), ix, progress.New(logPhases(log)))
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show the recorded and supported format versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndex(cmd, func(_ config.Config, _ *logger.Logger, ix *index.Index) error {
				rtxn, err := ix.ReadTxn()
				if err != nil {
					return err
				}
				defer rtxn.Close()

				recorded, ok, err := ix.Version(rtxn)
				if err != nil {
					return err
				}
				history, err := version.History(rtxn)
				if err != nil {
					return err
				}
				out := map[string]any{
					"current": version.Current,
					"oldest":  version.Oldest,
					"history": history,
				}
				if ok {
					out["version"] = recorded
				}
				return printJSON(cmd, out)
			})
		},
	}

	fieldsCmd = &cobra.Command{
		Use:   "fields",
		Short: "List fields with their metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndex(cmd, func(_ config.Config, _ *logger.Logger, ix *index.Index) error {
				rtxn, err := ix.ReadTxn()
				if err != nil {
					return err
				}
				defer rtxn.Close()

				fm, err := ix.FieldsIDsMapWithMetadata(rtxn)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for f := range fm.All() {
					fmt.Fprintf(w, "%5d  %-32s %v\n", f.ID, f.Name, f.Metadata)
				}
				return nil
			})
		},
	}

	settingsCmd = &cobra.Command{
		Use:   "settings",
		Short: "Show or replace attribute settings",
	}

	settingsShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the stored settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndex(cmd, func(_ config.Config, _ *logger.Logger, ix *index.Index) error {
				rtxn, err := ix.ReadTxn()
				if err != nil {
					return err
				}
				defer rtxn.Close()

				settings, err := ix.Settings(rtxn)
				if err != nil {
					return err
				}
				return printJSON(cmd, settings)
			})
		},
	}

	settingsApplyCmd = &cobra.Command{
		Use:   "apply",
		Short: "Replace the settings with a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var settings index.Settings
			if err := readJSONFile(settingsFile, &settings); err != nil {
				return err
			}
			return withIndex(cmd, func(_ config.Config, log *logger.Logger, ix *index.Index) error {
				if err := requireCurrent(ix); err != nil {
					return err
				}
				wtxn, err := ix.WriteTxn()
				if err != nil {
					return err
				}
				defer wtxn.Abort()

				if err := ix.ApplySettings(wtxn, settings); err != nil {
					return err
				}
				if err := wtxn.Commit(); err != nil {
					return err
				}
				log.Info("Settings applied").Str("file", settingsFile).Send()
				return nil
			})
		},
	}
	settingsFile string

	addCmd = &cobra.Command{
		Use:   "add",
		Short: "Add documents from a JSON array file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var docs []map[string]any
			if err := readJSONFile(documentsFile, &docs); err != nil {
				return err
			}
			return withIndex(cmd, func(_ config.Config, _ *logger.Logger, ix *index.Index) error {
				if err := requireCurrent(ix); err != nil {
					return err
				}
				wtxn, err := ix.WriteTxn()
				if err != nil {
					return err
				}
				defer wtxn.Abort()

				res, err := ix.AddDocuments(wtxn, docs)
				if err != nil {
					return err
				}
				if err := wtxn.Commit(); err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	documentsFile string
)

func init() {
	settingsApplyCmd.Flags().StringVar(&settingsFile, "file", "", "Settings JSON file")
	_ = settingsApplyCmd.MarkFlagRequired("file")
	settingsCmd.AddCommand(settingsShowCmd, settingsApplyCmd)

	addCmd.Flags().StringVar(&documentsFile, "file", "", "JSON file holding an array of documents")
	_ = addCmd.MarkFlagRequired("file")
}

func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// requireCurrent refuses writes to an index that has not been upgraded
func requireCurrent(ix *index.Index) error {
	rtxn, err := ix.ReadTxn()
	if err != nil {
		return err
	}
	defer rtxn.Close()

	v, ok, err := ix.Version(rtxn)
	if err != nil {
		return err
	}
	if !ok {
		v = version.Oldest
	}
	if v != version.Current {
		return fmt.Errorf("index is at %v; run `fieldstore upgrade` first", v)
	}
	return nil
}
