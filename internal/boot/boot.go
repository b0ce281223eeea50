package boot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Request is what the kernel is started with.
type Request struct {
	Kernel  []byte
	Cmdline []byte
	// Initrd is empty when the image carries no initrd and nothing was packed.
	Initrd []byte
}

// Launcher transfers control to a kernel. On success it does not return
// in practice; a nil error is treated as a completed handoff.
type Launcher interface {
	Launch(ctx context.Context, req Request) error
}

// Output file names written by DirLauncher.
const (
	KernelFile  = "linux"
	InitrdFile  = "initrd"
	CmdlineFile = "cmdline"
)

// DirLauncher writes the launch request into Dir instead of starting it.
type DirLauncher struct {
	Dir    string
	Logger *zap.Logger
}

// Launch writes linux, and initrd and cmdline when present.
func (l *DirLauncher) Launch(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(req.Kernel) == 0 {
		return errors.New("no kernel to launch")
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", l.Dir)
	}

	files := []struct {
		name string
		data []byte
	}{
		{KernelFile, req.Kernel},
		{InitrdFile, req.Initrd},
		{CmdlineFile, bytes.TrimRight(req.Cmdline, "\x00")},
	}
	for _, f := range files {
		path := filepath.Join(l.Dir, f.name)
		if len(f.data) == 0 {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "remove stale %s", path)
			}
			continue
		}
		if err := os.WriteFile(path, f.data, 0o644); err != nil {
			return errors.Wrapf(err, "write %s", path)
		}
	}

	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("boot assets written",
		zap.String("dir", l.Dir),
		zap.Int("kernel", len(req.Kernel)),
		zap.Int("initrd", len(req.Initrd)),
		zap.ByteString("cmdline", req.Cmdline),
	)
	return nil
}
