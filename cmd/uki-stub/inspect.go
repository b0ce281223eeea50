//go:build linux

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cozystack/uki-stub/internal/cmdline"
	"github.com/cozystack/uki-stub/internal/efi"
	"github.com/cozystack/uki-stub/internal/stub"
	"github.com/cozystack/uki-stub/internal/types"
	"github.com/cozystack/uki-stub/internal/uki"
)

func newInspectCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [image]",
		Short: "Show the sections, command line and origin of a UKI",
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

			src, img, err := loadImage(ref, cfg.LoadOptions)
			if err != nil {
				return err
			}
			defer src.Close()
			defer img.Close()

			return inspect(cmd.OutOrStdout(), src, img)
		},
	}
}

func inspect(w io.Writer, src types.ImageSource, img *types.LoadedImage) error {
	image, err := uki.LoadBytes(img.Image)
	if err != nil {
		return errors.Mark(err, stub.ErrInvalidParameter)
	}

	fmt.Fprintf(w, "Source: %s (%s)\n", src.Reference(), src.Type())
	fmt.Fprintf(w, "Path: %s\n", img.Path)
	if u, ok := efi.PartitionUUID(img.DevicePath); ok {
		fmt.Fprintf(w, "Partition: %s\n", strings.ToUpper(u.String()))
	}
	if len(img.FilePath) > 0 {
		if s, err := efi.FilePathString(img.FilePath); err == nil {
			fmt.Fprintf(w, "Image identifier: %s\n", s)
		}
	}

	fmt.Fprintln(w, "\nSections:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tADDRESS\tSIZE\tRAW")
	for _, h := range image.Headers() {
		fmt.Fprintf(tw, "  %s\t%#x\t%s\t%s\n", h.Name, h.VirtualAddress,
			humanize.IBytes(uint64(h.VirtualSize)), humanize.IBytes(uint64(h.RawSize)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	spans, err := image.Locate(uki.SectionLinux)
	if err != nil {
		return errors.Mark(err, stub.ErrInvalidParameter)
	}
	if !spans[0].Present() {
		return errors.Mark(errors.New("image has no .linux section"), stub.ErrNotFound)
	}

	fmt.Fprintln(w)
	if data, err := image.Section(uki.SectionUname); err == nil && data != nil {
		fmt.Fprintf(w, "%s: %s\n", uki.SectionUname, strings.TrimRight(string(data), "\x00\n"))
	}
	if embedded, err := image.Cmdline(); err == nil {
		fmt.Fprintf(w, "%s: %s\n", uki.SectionCmdline, embedded)
	}
	if cmdline.HasLoadOptions(img.LoadOptions) {
		fmt.Fprintf(w, "load options: %s\n", strings.TrimRight(string(cmdline.Narrow(img.LoadOptions)), "\x00"))
	}
	if data, err := image.Section(uki.SectionOSRel); err == nil && data != nil {
		fmt.Fprintln(w, "\nOS release:")
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			fmt.Fprintf(w, "  %s\n", strings.TrimRight(line, "\x00"))
		}
	}

	return nil
}
