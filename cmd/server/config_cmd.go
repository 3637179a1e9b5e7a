package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"outreach_engine/internal/store/sqlite"
)

var withStored bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the merged configuration",
}

var configExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the merged configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if withStored {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			store, err := sqlite.Open(ctx, cfg.Storage().SQLitePath)
			if err != nil {
				return fmt.Errorf("open sqlite: %w", err)
			}
			defer store.Close()
			if err := cfg.MergeExternal(ctx, store); err != nil {
				return fmt.Errorf("merge stored overrides: %w", err)
			}
		}
		b, err := cfg.Export()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(b)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Exit non-zero when the configuration is invalid",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "config ok")
		return nil
	},
}

func init() {
	configExportCmd.Flags().BoolVar(&withStored, "with-stored", false, "merge overrides saved in sqlite")
}
