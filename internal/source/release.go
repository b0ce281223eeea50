package source

import (
	"io"
	"os"
	"sync"
)

// releaser closes an image handle at most once and then removes the
// scratch directories that back it. The volume and the loaded image both
// hold it.
type releaser struct {
	once sync.Once
	c    io.Closer
	dirs []string
	err  error
}

func newReleaser(c io.Closer, dirs ...string) *releaser {
	r := &releaser{c: c}
	for _, d := range dirs {
		if d != "" {
			r.dirs = append(r.dirs, d)
		}
	}
	return r
}

func (r *releaser) Close() error {
	r.once.Do(func() {
		if r.c != nil {
			r.err = r.c.Close()
		}
		for _, d := range r.dirs {
			_ = os.RemoveAll(d)
		}
	})
	return r.err
}
