//go:build windows

package hotkey

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procGetAsyncKeyState = user32.NewProc("GetAsyncKeyState")
)

const (
	vkShift   = 0x10
	vkControl = 0x11
	vkMenu    = 0x12
	vkLWin    = 0x5B
	vkRWin    = 0x5C

	keyDownBit = 0x8000
)

type systemSource struct{}

// NewSystemSource reads global key state with GetAsyncKeyState.
func NewSystemSource() Source { return systemSource{} }

func (systemSource) Sample(keys []VKey) (KeyState, error) {
	if err := procGetAsyncKeyState.Find(); err != nil {
		return KeyState{}, fmt.Errorf("GetAsyncKeyState unavailable: %w", err)
	}
	var s KeyState
	if asyncDown(vkControl) {
		s.Mods |= ModCtrl
	}
	if asyncDown(vkMenu) {
		s.Mods |= ModAlt
	}
	if asyncDown(vkShift) {
		s.Mods |= ModShift
	}
	if asyncDown(vkLWin) || asyncDown(vkRWin) {
		s.Mods |= ModWin
	}
	for _, k := range keys {
		if asyncDown(uintptr(k)) {
			s.Keys = append(s.Keys, k)
		}
	}
	return s, nil
}

func asyncDown(vk uintptr) bool {
	r, _, _ := procGetAsyncKeyState.Call(vk)
	return r&keyDownBit != 0
}
