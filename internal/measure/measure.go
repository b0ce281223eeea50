// Package measure records boot inputs into the trusted measurement log.
package measure

import (
	"crypto/sha256"
	"sync"
)

// Registers used by the stub.
const (
	PCRKernelParameters       uint32 = 12
	PCRKernelParametersCompat uint32 = 8
	PCRInitrd                 uint32 = 4
)

// KernelParameterPCRs are the registers command line overrides and
// credentials are measured into.
var KernelParameterPCRs = []uint32{PCRKernelParameters, PCRKernelParametersCompat} //nolint:gochecknoglobals

// Measurer appends data to the measurement log under each of pcrs.
type Measurer interface {
	Measure(pcrs []uint32, data []byte, description string) error
}

// Event is one measurement log entry.
type Event struct {
	PCR         uint32
	Digest      [sha256.Size]byte
	Description string
}

// Log is an in-memory event log.
type Log struct {
	mu     sync.Mutex
	events []Event
}

// Measure implements Measurer.
func (l *Log) Measure(pcrs []uint32, data []byte, description string) error {
	digest := sha256.Sum256(data)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, pcr := range pcrs {
		l.events = append(l.events, Event{PCR: pcr, Digest: digest, Description: description})
	}

	return nil
}

// Events returns a copy of the recorded events in order.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]Event(nil), l.events...)
}

// Nop discards measurements.
type Nop struct{}

// Measure implements Measurer.
func (Nop) Measure([]uint32, []byte, string) error { return nil }
