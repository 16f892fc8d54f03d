//go:build windows

package focus

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// SystemCaret asks the foreground thread whether it owns a caret.
func SystemCaret() (bool, error) {
	fg := windows.GetForegroundWindow()
	if fg == 0 {
		return false, nil
	}
	var pid uint32
	tid, err := windows.GetWindowThreadProcessId(fg, &pid)
	if err != nil {
		return false, err
	}
	var info windows.GUIThreadInfo
	info.Size = uint32(unsafe.Sizeof(info))
	if err := windows.GetGUIThreadInfo(tid, &info); err != nil {
		return false, err
	}
	return info.CaretHandle != 0, nil
}
