//go:build linux && amd64

package memory

import "golang.org/x/sys/unix"

// lowMapFlags restricts mappings to the first 2 GiB on amd64.
const lowMapFlags = unix.MAP_32BIT
