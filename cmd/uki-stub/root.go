//go:build linux

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cozystack/uki-stub/internal/cli"
	"github.com/cozystack/uki-stub/internal/config"
	"github.com/cozystack/uki-stub/internal/stub"
)

// statusError carries the status of a failed boot attempt to the exit code.
type statusError struct {
	status stub.Status
}

func (e *statusError) Error() string {
	return fmt.Sprintf("boot attempt failed: %s (status %d)", e.status, uint(e.status))
}

func statusErr(status stub.Status) error {
	if status == stub.StatusSuccess {
		return nil
	}
	return &statusError{status: status}
}

// exitCode maps the result of a command to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *statusError
	if errors.As(err, &se) {
		return int(se.status)
	}
	return int(stub.StatusOf(err))
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "uki-stub",
		Short:         "Boot a unified kernel image the way its EFI stub would",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions = cobra.CompletionOptions{
		DisableDefaultCmd: true,
	}

	config.AddFlags(cmd.PersistentFlags())
	_ = v.BindPFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newBootCmd(v),
		newAssembleCmd(v),
		newInspectCmd(v),
		newVersionCmd(),
	)
	return cmd
}

func execute(ctx context.Context, args []string) int {
	v := config.New()
	cmd := newRootCmd(v)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		var se *statusError
		if !errors.As(err, &se) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
	return exitCode(err)
}

// setup resolves the configuration and builds the logger.
func setup(v *viper.Viper, args []string) (config.Config, *zap.Logger, error) {
	if len(args) > 0 {
		v.Set(config.KeyImage, args[0])
	}
	cfg, err := config.Load(v)
	if err != nil {
		return cfg, nil, errors.Mark(err, stub.ErrInvalidParameter)
	}
	cli.YesFlag = cfg.Yes
	return cfg, cli.NewLogger(os.Stderr, cfg.Debug), nil
}
