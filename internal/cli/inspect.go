package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/utkarsh5026/pararun/internal/cache"
)

func newInspectCmd(root *rootOptions) *cobra.Command {
	var keyField string

	cmd := &cobra.Command{
		Use:   "inspect [cache-path]",
		Short: "Report malformed records and duplicate keys in a cache",
		Long: `inspect scans a cache without modifying it. A file is read as a JSONL log;
a directory is opened as a Pebble cache.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cmd.Flags().Changed("key-field") {
				cfg.Cache.KeyField = keyField
			}

			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				rep, err := inspectPebble(cmd, path, cache.Options{KeyField: cfg.Cache.KeyField, Logger: logger})
				if err != nil {
					return err
				}
				renderReport(cmd.OutOrStdout(), path, dirSize(path), rep)
				return nil
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			rep, err := cache.Inspect(cmd.Context(), f, cfg.Cache.KeyField)
			if err != nil {
				return fmt.Errorf("inspect %s: %w", path, err)
			}
			renderReport(cmd.OutOrStdout(), path, info.Size(), rep)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyField, "key-field", "", "record field holding the item key")
	return cmd
}

// inspectPebble reads a Pebble cache without creating or modifying it.
func inspectPebble(cmd *cobra.Command, dir string, opts cache.Options) (*cache.Report, error) {
	store, err := cache.OpenPebbleReadOnly(dir, opts)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	rep, err := store.Inspect(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", dir, err)
	}
	return rep, nil
}

func dirSize(dir string) int64 {
	var n int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			n += info.Size()
		}
		return nil
	})
	return n
}
