//go:build linux

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cozystack/uki-stub/internal/stub"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev" //nolint:gochecknoglobals

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), stub.Name, version)
		},
	}
}
