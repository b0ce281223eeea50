//go:build linux && !amd64

package memory

// lowMapFlags is empty where the kernel has no 32-bit mapping flag; the
// placement is checked after the mapping is made.
const lowMapFlags = 0
