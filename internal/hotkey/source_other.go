//go:build !windows

package hotkey

type systemSource struct{}

// NewSystemSource returns a source that always fails with ErrUnsupported.
func NewSystemSource() Source { return systemSource{} }

func (systemSource) Sample([]VKey) (KeyState, error) {
	return KeyState{}, ErrUnsupported
}
