//go:build linux && !386

package boot

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/cozystack/uki-stub/internal/efi"
)

// Paths consulted when kexec_file_load is refused.
const (
	DefaultLockdownPath      = "/sys/kernel/security/lockdown"
	DefaultKexecDisabledPath = "/proc/sys/kernel/kexec_load_disabled"
)

// CreateMemfdFromReader creates an anonymous file in memory via memfd_create and copies data from reader.
func CreateMemfdFromReader(name string, reader io.Reader) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "memfd_create failed")
	}

	file := os.NewFile(uintptr(fd), name)
	if _, err := io.Copy(file, reader); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "failed to copy to memfd")
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "failed to seek memfd")
	}

	return file, nil
}

// KexecLauncher loads the kernel with kexec_file_load and reboots into it.
type KexecLauncher struct {
	Logger *zap.Logger
	// LoadOnly stops after the kernel is staged, leaving the reboot to the caller.
	LoadOnly bool
}

// Launch stages req and reboots into it. It only returns on failure, or
// after staging when LoadOnly is set.
func (l *KexecLauncher) Launch(ctx context.Context, req Request) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	kernelFile, err := CreateMemfdFromReader("kernel", bytes.NewReader(req.Kernel))
	if err != nil {
		return errors.Wrap(err, "failed to create kernel memfd")
	}
	defer kernelFile.Close()

	initrdFD := -1
	flags := 0
	if len(req.Initrd) > 0 {
		initrdFile, err := CreateMemfdFromReader("initramfs", bytes.NewReader(req.Initrd))
		if err != nil {
			return errors.Wrap(err, "failed to create initramfs memfd")
		}
		defer initrdFile.Close()
		initrdFD = int(initrdFile.Fd())
	} else {
		flags |= unix.KEXEC_FILE_NO_INITRAMFS
	}

	// The kernel reads the command line up to its first NUL.
	cmdline := req.Cmdline
	if i := bytes.IndexByte(cmdline, 0); i >= 0 {
		cmdline = cmdline[:i]
	}

	logger.Info("loading kernel with kexec_file_load",
		zap.Int("kernel", len(req.Kernel)),
		zap.Int("initrd", len(req.Initrd)),
		zap.ByteString("cmdline", cmdline),
	)

	if err := unix.KexecFileLoad(int(kernelFile.Fd()), initrdFD, string(cmdline), flags); err != nil {
		var errno syscall.Errno
		if errors.As(err, &errno) {
			return handleKexecError(errno, DefaultLockdownPath, DefaultKexecDisabledPath)
		}
		return errors.Wrap(err, "kexec_file_load")
	}

	if l.LoadOnly {
		logger.Info("kexec loaded, reboot skipped")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	logger.Info("kexec loaded successfully, rebooting")

	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_KEXEC); err != nil {
		return errors.Wrap(err, "reboot with kexec failed")
	}

	// Unreachable once the new kernel is running.
	return nil
}

// handleKexecError translates errno to descriptive error message.
func handleKexecError(errno syscall.Errno, lockdownPath, disabledPath string) error {
	switch errno { //nolint:exhaustive
	case unix.ENOSYS:
		return errors.New("kexec support is disabled in the kernel (CONFIG_KEXEC_FILE not enabled)")
	case unix.EPERM:
		// EPERM is either the sysctl, lockdown or a missing signature.
		lockdownData, _ := os.ReadFile(lockdownPath)
		lockdown := strings.TrimSpace(string(lockdownData))
		if strings.Contains(lockdown, "[confidentiality]") || strings.Contains(lockdown, "[integrity]") {
			sbHint := ""
			if sbState, err := efi.GetSecureBootState(); err == nil && sbState.Enabled {
				sbHint = "\n  Note: Secure Boot is enabled, which activates kernel lockdown"
			}
			return errors.Newf("kexec blocked: kernel is in lockdown mode (%s).%s\nSolutions:\n  1. Use a kernel signed with a key in the platform keyring\n  2. Boot with 'lockdown=none' kernel parameter", lockdown, sbHint)
		}
		sysctlData, _ := os.ReadFile(disabledPath)
		if strings.TrimSpace(string(sysctlData)) == "1" {
			return errors.New("kexec is disabled via sysctl kernel.kexec_load_disabled")
		}
		return errors.New("kexec blocked: permission denied. Possible causes:\n  1. Missing CAP_SYS_BOOT\n  2. Kernel requires signed image (try booting with 'lockdown=none')")
	case unix.EBUSY:
		return errors.New("kexec is busy (another kexec may be in progress)")
	case unix.EKEYREJECTED:
		return errors.New("kernel signature verification failed (unsigned kernel with lockdown enabled)")
	case unix.ENOEXEC:
		return errors.New("kernel image format not recognised by kexec_file_load")
	case unix.EOPNOTSUPP:
		return errors.New("kexec_file_load not supported (old kernel or missing CONFIG_KEXEC_FILE)")
	default:
		return errors.Newf("error loading kernel for kexec: %v (errno: %d). Check dmesg for details", errno, errno)
	}
}
