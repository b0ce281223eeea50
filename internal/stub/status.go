package stub

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/cozystack/uki-stub/internal/memory"
)

// Status is the exit status of a boot attempt. Values follow the UEFI
// status codes without the error bit.
type Status uint

const (
	StatusSuccess          Status = 0
	StatusLoadError        Status = 1
	StatusInvalidParameter Status = 2
	StatusUnsupported      Status = 3
	StatusOutOfResources   Status = 9
	StatusNotFound         Status = 14
	StatusAborted          Status = 21
	StatusProtocolError    Status = 24
)

var statusNames = map[Status]string{
	StatusSuccess:          "success",
	StatusLoadError:        "load error",
	StatusInvalidParameter: "invalid parameter",
	StatusUnsupported:      "unsupported",
	StatusOutOfResources:   "out of resources",
	StatusNotFound:         "not found",
	StatusAborted:          "aborted",
	StatusProtocolError:    "protocol error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status %d", uint(s))
}

var (
	// ErrNotFound marks a required embedded section that is missing.
	ErrNotFound = errors.New("not found")
	// ErrProtocol marks a missing firmware-provided input.
	ErrProtocol = errors.New("protocol error")
	// ErrInvalidParameter marks a malformed input.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrUnsupported marks an operation the platform cannot perform.
	ErrUnsupported = errors.New("unsupported")
)

// StatusOf maps err to the status returned to the caller. Unclassified
// errors become StatusLoadError.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, memory.ErrAllocation):
		return StatusOutOfResources
	case errors.Is(err, ErrProtocol):
		return StatusProtocolError
	case errors.Is(err, ErrInvalidParameter):
		return StatusInvalidParameter
	case errors.Is(err, ErrUnsupported):
		return StatusUnsupported
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusAborted
	default:
		return StatusLoadError
	}
}

// State is a step of a boot attempt.
type State int

const (
	StateInit State = iota
	StateSectionsLocated
	StateSplashShown
	StateCmdlineSelected
	StateMetadataExported
	StatePayloadsPacked
	StateInitrdCombined
	StateDeviceTreeInstalled
	StateLaunching
	StateSuccess
	StateFailed
)

var stateNames = [...]string{
	StateInit:                "init",
	StateSectionsLocated:     "sections located",
	StateSplashShown:         "splash shown",
	StateCmdlineSelected:     "cmdline selected",
	StateMetadataExported:    "metadata exported",
	StatePayloadsPacked:      "payloads packed",
	StateInitrdCombined:      "initrd combined",
	StateDeviceTreeInstalled: "device tree installed",
	StateLaunching:           "launching",
	StateSuccess:             "success",
	StateFailed:              "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state %d", int(s))
}
