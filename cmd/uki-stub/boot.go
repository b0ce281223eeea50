//go:build linux

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cozystack/uki-stub/internal/cli"
	"github.com/cozystack/uki-stub/internal/stub"
)

func newBootCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "boot [image]",
		Short: "Assemble the kernel, command line and initrd of a UKI and kexec into it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(v, args)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ref, err := resolveImage(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "\nBoot Summary:")
			fmt.Fprintf(out, "  Image: %s\n", ref)
			fmt.Fprintf(out, "  Load options: %s\n", orNone(cfg.LoadOptions))
			fmt.Fprintf(out, "  Secure boot: %s\n", cfg.SecureBoot)
			fmt.Fprintf(out, "  TPM: %s\n", orNone(cfg.TPMDevice))
			fmt.Fprintln(out)

			if !cli.AskYesNo("Continue with boot?", true) {
				logger.Error("aborted by user")
				return statusErr(stub.StatusAborted)
			}

			return runPipeline(cmd.Context(), cfg, logger, ref, false)
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
