//go:build linux

package main

import (
	"context"
	"encoding/hex"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/cozystack/uki-stub/internal/boot"
	"github.com/cozystack/uki-stub/internal/bootvars"
	"github.com/cozystack/uki-stub/internal/cli"
	"github.com/cozystack/uki-stub/internal/config"
	"github.com/cozystack/uki-stub/internal/devicetree"
	"github.com/cozystack/uki-stub/internal/efi"
	"github.com/cozystack/uki-stub/internal/measure"
	"github.com/cozystack/uki-stub/internal/memory"
	"github.com/cozystack/uki-stub/internal/source"
	"github.com/cozystack/uki-stub/internal/splash"
	"github.com/cozystack/uki-stub/internal/stub"
	"github.com/cozystack/uki-stub/internal/types"
)

// pipeline is a Stub together with the resources it holds.
type pipeline struct {
	stub    *stub.Stub
	log     *measure.Log
	memory  *bootvars.MemoryStore
	closers []func() error
}

func (p *pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newPipeline wires the collaborators. A dry run never touches the
// platform: it writes the result to cfg.Out instead of executing it.
func newPipeline(cfg config.Config, logger *zap.Logger, dryRun bool) *pipeline {
	p := &pipeline{}
	s := &stub.Stub{
		Logger:     logger,
		StallDelay: cfg.Stall,
		Version:    version,
		Firmware:   efi.ReadFirmwareInfo(efi.DMIDir, cfg.UEFIRevision),
		SecureBoot: func() bool {
			return cfg.SecureBoot.Enforced(func() (bool, error) {
				state, err := efi.GetSecureBootState()
				return state.Enabled, err
			})
		},
	}
	p.stub = s

	if cfg.TPMDevice != "" {
		tpm, err := measure.OpenTPM(cfg.TPMDevice)
		if err != nil {
			logger.Warn("TPM unavailable, measurements are only logged", zap.String("device", cfg.TPMDevice), zap.Error(err))
		} else {
			s.Measurer = tpm
			p.closers = append(p.closers, tpm.Close)
		}
	}
	if s.Measurer == nil {
		p.log = &measure.Log{}
		s.Measurer = p.log
	}

	if cfg.EFIVars {
		rw, err := efi.NewReaderWriter(true)
		if err != nil {
			logger.Warn("efivarfs unavailable, loader variables are not exported", zap.Error(err))
		} else {
			s.Store = bootvars.NewEFIStore(rw)
			p.closers = append(p.closers, rw.Close)
		}
	}
	if s.Store == nil {
		p.memory = bootvars.NewMemoryStore(nil)
		s.Store = p.memory
	}

	if cfg.DeviceTreeOverlay {
		s.DeviceTree = devicetree.NewOverlay(logger)
	} else {
		s.DeviceTree = devicetree.Nop{}
	}

	if dryRun {
		s.Allocator = &memory.HeapAllocator{}
		s.Splash = splash.Nop{}
		s.Launcher = &boot.DirLauncher{Dir: cfg.Out, Logger: logger}
	} else {
		s.Allocator = memory.MmapAllocator{}
		s.Splash = splash.NewFramebuffer(0, logger)
		s.Launcher = &boot.KexecLauncher{Logger: logger}
	}
	if cfg.AllocationCeiling != 0 {
		s.Allocator = memory.Ceiling{Allocator: s.Allocator, Max: cfg.AllocationCeiling}
	}

	return p
}

// report logs what a run recorded without platform backing.
func (p *pipeline) report(logger *zap.Logger) {
	if p.log != nil {
		for _, e := range p.log.Events() {
			logger.Info("measured",
				zap.Uint32("pcr", e.PCR),
				zap.String("sha256", hex.EncodeToString(e.Digest[:])),
				zap.String("description", e.Description),
			)
		}
	}
	if p.memory != nil {
		for _, name := range bootvars.Variables {
			raw, err := p.memory.Get(name)
			if err != nil {
				continue
			}
			value, _ := efi.DecodeString(raw)
			logger.Info("loader variable", zap.String("name", name), zap.String("value", value))
		}
	}
}

// resolveImage returns the image reference, prompting when none was given.
func resolveImage(cfg config.Config) (string, error) {
	if cfg.Image != "" {
		return cfg.Image, nil
	}
	image, err := cli.AskRequired("UKI image (path, URL or container reference)")
	if err != nil {
		return "", errors.Mark(err, stub.ErrInvalidParameter)
	}
	return image, nil
}

// loadImage opens ref and loads the UKI it contains, passing loadOptions
// the way firmware passes them.
func loadImage(ref, loadOptions string) (types.ImageSource, *types.LoadedImage, error) {
	src, err := source.DetectImageSource(ref)
	if err != nil {
		return nil, nil, errors.Mark(errors.Wrap(err, "detect image source"), stub.ErrInvalidParameter)
	}

	img, err := src.Load()
	if err != nil {
		_ = src.Close()
		return nil, nil, errors.Mark(errors.Wrapf(err, "load %s", ref), stub.ErrNotFound)
	}

	if loadOptions != "" {
		img.LoadOptions, err = efi.EncodeString(loadOptions)
		if err != nil {
			_ = img.Close()
			_ = src.Close()
			return nil, nil, errors.Mark(errors.Wrap(err, "encode load options"), stub.ErrInvalidParameter)
		}
	}

	return src, img, nil
}

// runPipeline loads the image and performs one boot attempt.
func runPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger, ref string, dryRun bool) error {
	src, img, err := loadImage(ref, cfg.LoadOptions)
	if err != nil {
		return err
	}
	defer src.Close()
	defer img.Close()

	p := newPipeline(cfg, logger, dryRun)
	defer p.Close()

	logger.Debug("image loaded",
		zap.String("source", src.Type().String()),
		zap.String("path", img.Path),
		zap.Int("size", len(img.Image)),
	)

	status := p.stub.Run(ctx, img)
	if dryRun {
		p.report(logger)
	}
	return statusErr(status)
}
