// Package stub runs one boot attempt: it finds the kernel inside a unified
// kernel image, assembles its command line and initrd and hands them to a
// launcher.
package stub

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/cozystack/uki-stub/internal/boot"
	"github.com/cozystack/uki-stub/internal/bootvars"
	"github.com/cozystack/uki-stub/internal/cmdline"
	"github.com/cozystack/uki-stub/internal/devicetree"
	"github.com/cozystack/uki-stub/internal/efi"
	"github.com/cozystack/uki-stub/internal/initrd"
	"github.com/cozystack/uki-stub/internal/measure"
	"github.com/cozystack/uki-stub/internal/memory"
	"github.com/cozystack/uki-stub/internal/pack"
	"github.com/cozystack/uki-stub/internal/splash"
	"github.com/cozystack/uki-stub/internal/types"
	"github.com/cozystack/uki-stub/internal/uki"
)

// Name is reported in the StubInfo loader variable.
const Name = "uki-stub"

// DefaultStallDelay is how long a fatal error stays on screen.
const DefaultStallDelay = 5 * time.Second

// Stub holds the collaborators of a boot attempt. Nil optional fields
// disable their step.
type Stub struct {
	Allocator memory.Allocator
	Measurer  measure.Measurer
	// Store receives loader variables. Nil skips the export.
	Store      bootvars.Store
	Splash     splash.Renderer
	DeviceTree devicetree.Installer
	Launcher   boot.Launcher
	// SecureBoot reports whether secure boot is enforced.
	SecureBoot func() bool
	Firmware   efi.FirmwareInfo
	Logger     *zap.Logger
	StallDelay time.Duration
	// Stall replaces the default timer based wait.
	Stall   func(ctx context.Context, d time.Duration)
	Version string
}

// attempt carries the values built up by Run.
type attempt struct {
	s     *Stub
	img   *types.LoadedImage
	state State

	image *uki.Image
	spans map[uki.Section]uki.Span
}

// Run performs one boot attempt with img and returns StatusSuccess only if
// the launcher accepted the kernel.
func (s *Stub) Run(ctx context.Context, img *types.LoadedImage) Status {
	a := &attempt{s: s, img: img}
	err := a.run(ctx)
	if err == nil {
		a.transition(StateSuccess)
		return StatusSuccess
	}

	var f *fatal
	if !errors.As(err, &f) {
		f = &fatal{op: "boot", err: err}
	}
	status := StatusOf(f.err)
	a.transition(StateFailed)
	s.logger().Error(fmt.Sprintf("%s: %v (status %d)", f.op, f.err, uint(status)))
	s.stall(ctx)
	return status
}

// fatal names the operation that ended an attempt.
type fatal struct {
	op  string
	err error
}

func (f *fatal) Error() string { return f.op + ": " + f.err.Error() }
func (f *fatal) Unwrap() error { return f.err }

func (a *attempt) transition(to State) {
	a.s.logger().Debug("boot state", zap.Stringer("from", a.state), zap.Stringer("to", to))
	a.state = to
}

func (a *attempt) section(name uki.Section) []byte {
	span, ok := a.spans[name]
	if !ok || !span.Present() {
		return nil
	}
	return a.image.Bytes(span)
}

func (a *attempt) run(ctx context.Context) error {
	s := a.s
	if a.img == nil || len(a.img.Image) == 0 {
		return &fatal{"Unable to get loaded image", errors.Mark(errors.New("no image"), ErrProtocol)}
	}
	if s.Launcher == nil || s.Allocator == nil {
		return &fatal{"Unable to get boot services", errors.Mark(errors.New("launcher and allocator are required"), ErrProtocol)}
	}

	if err := a.locate(); err != nil {
		return err
	}
	a.transition(StateSectionsLocated)

	if data := a.section(uki.SectionSplash); data != nil && s.Splash != nil {
		if err := s.Splash.Render(data); err != nil {
			s.logger().Debug("splash not shown", zap.Error(err))
		}
	}
	a.transition(StateSplashShown)

	sel, err := cmdline.Select(a.section(uki.SectionCmdline), a.img.LoadOptions, s.secureBoot(), s.measurer())
	if err != nil {
		s.logger().Warn("load options not measured", zap.Error(err))
	}
	s.logger().Info("kernel command line", zap.Stringer("source", sel.Source), zap.Stringer("cmdline", sel))
	a.transition(StateCmdlineSelected)

	if s.Store != nil {
		exporter := &bootvars.Exporter{
			Store:    s.Store,
			Firmware: s.Firmware,
			StubInfo: Name + " " + s.Version,
			Logger:   s.logger(),
		}
		if err := exporter.Export(a.img); err != nil {
			s.logger().Debug("loader variables partially exported", zap.Error(err))
		}
	}
	a.transition(StateMetadataExported)

	parts := a.pack()
	defer func() { _ = parts.Release() }()
	a.transition(StatePayloadsPacked)

	initrdData := a.section(uki.SectionInitrd)
	if parts.HasDynamic() {
		combined, err := initrd.Combine(s.Allocator, parts)
		if err != nil {
			return &fatal{"Unable to allocate memory for initrd", err}
		}
		// The combined region belongs to the kernel from here on and is
		// never released, even if the launch fails.
		_ = parts.Release()
		initrdData = combined.Data
		a.transition(StateInitrdCombined)
	}

	if dtb := a.section(uki.SectionDTB); dtb != nil && s.DeviceTree != nil {
		state, err := s.DeviceTree.Install(dtb)
		if err != nil {
			s.logger().Error("device tree not installed", zap.Error(err))
		} else {
			defer func() {
				if err := state.Close(); err != nil {
					s.logger().Warn("device tree not restored", zap.Error(err))
				}
			}()
			a.transition(StateDeviceTreeInstalled)
		}
	}

	a.transition(StateLaunching)
	err = s.Launcher.Launch(ctx, boot.Request{
		Kernel:  a.section(uki.SectionLinux),
		Cmdline: sel.Data,
		Initrd:  initrdData,
	})
	if err != nil {
		return &fatal{"Execution of embedded linux image failed", err}
	}
	return nil
}

func (a *attempt) locate() error {
	image, err := uki.LoadBytes(a.img.Image)
	if err != nil {
		return &fatal{"Unable to locate embedded .linux section", err}
	}
	spans, err := image.Locate(uki.Sections...)
	if err != nil {
		return &fatal{"Unable to locate embedded .linux section", err}
	}

	a.image = image
	a.spans = make(map[uki.Section]uki.Span, len(spans))
	for i, name := range uki.Sections {
		a.spans[name] = spans[i]
	}
	if !a.spans[uki.SectionLinux].Present() {
		return &fatal{"Unable to locate embedded .linux section", errors.Mark(errors.New("section .linux missing"), ErrNotFound)}
	}
	return nil
}

// pack builds the dynamic archives. Each one is optional and its failure is
// only logged.
func (a *attempt) pack() initrd.Parts {
	s := a.s
	var parts initrd.Parts
	if data := a.section(uki.SectionInitrd); data != nil {
		parts.Primary = memory.NewBlob(data)
	}
	if a.img.Volume == nil {
		s.logger().Debug("no volume, skipping payloads")
		return parts
	}

	packer := &pack.Packer{Volume: a.img.Volume, Measurer: s.measurer(), Logger: s.logger()}
	build := func(req pack.Request) *memory.Blob {
		blob, err := packer.Pack(req)
		if err != nil {
			s.logger().Warn("payload not packed", zap.String("consumer", req.Consumer), zap.Error(err))
			return nil
		}
		return blob
	}

	parts.Credentials = build(pack.Credentials(a.img.Path))
	parts.GlobalCredentials = build(pack.GlobalCredentials())
	parts.Sysext = build(pack.Sysext(a.img.Path))
	return parts
}

func (s *Stub) secureBoot() bool {
	if s.SecureBoot == nil {
		return false
	}
	return s.SecureBoot()
}

func (s *Stub) measurer() measure.Measurer {
	if s.Measurer == nil {
		return measure.Nop{}
	}
	return s.Measurer
}

func (s *Stub) stall(ctx context.Context) {
	if s.Stall != nil {
		s.Stall(ctx, s.StallDelay)
		return
	}
	if s.StallDelay <= 0 {
		return
	}
	t := time.NewTimer(s.StallDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (s *Stub) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
