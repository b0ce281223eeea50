//go:build linux

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cozystack/uki-stub/internal/config"
)

func newAssembleCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assemble [image]",
		Short: "Run the boot pipeline without executing it and write linux, initrd and cmdline to --out",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.DryRunDefaults(v)
			cfg, logger, err := setup(v, args)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ref, err := resolveImage(cfg)
			if err != nil {
				return err
			}

			return runPipeline(cmd.Context(), cfg, logger, ref, true)
		},
	}

	cmd.Flags().String(config.KeyOut, "uki-stub-out", "directory receiving the assembled boot files")
	_ = v.BindPFlag(config.KeyOut, cmd.Flags().Lookup(config.KeyOut))

	return cmd
}
