//go:build !windows

package clipboard

import (
	"os"
	"sync"

	"github.com/atotto/clipboard"
)

// processLock stands in for OS ownership, which the helper tools used by
// atotto/clipboard do not expose. It only excludes callers in this process.
var processLock sync.Mutex

type system struct{}

// System returns the desktop clipboard via xclip/xsel/wl-clipboard or pbcopy.
func System() Clipboard { return system{} }

func (system) Acquire() (Lease, error) {
	if clipboard.Unsupported {
		return nil, ErrUnavailable
	}
	if !processLock.TryLock() {
		return nil, &ContentionError{Owner: Owner{PID: uint32(os.Getpid()), Process: "this process"}}
	}
	return &lease{}, nil
}

type lease struct {
	released bool
}

func (l *lease) SetText(text string) error {
	if l.released {
		return ErrReleased
	}
	return clipboard.WriteAll(text)
}

func (l *lease) Text() (string, error) {
	if l.released {
		return "", ErrReleased
	}
	return clipboard.ReadAll()
}

func (l *lease) Release() error {
	if l.released {
		return nil
	}
	l.released = true
	processLock.Unlock()
	return nil
}
