//go:build !windows

package focus

import "errors"

// SystemCaret cannot tell on this platform; Inspect then assumes text input.
func SystemCaret() (bool, error) {
	return false, errors.New("caret detection unsupported")
}
