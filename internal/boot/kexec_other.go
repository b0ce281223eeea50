//go:build !linux || 386

package boot

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// KexecLauncher needs kexec_file_load, which linux/386 lacks.
type KexecLauncher struct {
	Logger   *zap.Logger
	LoadOnly bool
}

// Launch always fails.
func (l *KexecLauncher) Launch(context.Context, Request) error {
	return errors.New("kexec is only supported on linux")
}
