//go:build windows

package clipboard

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	cfUnicodeText = 13
	gmemMoveable  = 0x0002
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procOpenClipboard          = user32.NewProc("OpenClipboard")
	procCloseClipboard         = user32.NewProc("CloseClipboard")
	procEmptyClipboard         = user32.NewProc("EmptyClipboard")
	procGetClipboardData       = user32.NewProc("GetClipboardData")
	procSetClipboardData       = user32.NewProc("SetClipboardData")
	procGetOpenClipboardWindow = user32.NewProc("GetOpenClipboardWindow")

	procGlobalAlloc  = kernel32.NewProc("GlobalAlloc")
	procGlobalFree   = kernel32.NewProc("GlobalFree")
	procGlobalLock   = kernel32.NewProc("GlobalLock")
	procGlobalUnlock = kernel32.NewProc("GlobalUnlock")
)

type system struct{}

// System returns the Win32 clipboard.
func System() Clipboard { return system{} }

// Acquire opens the clipboard for this thread. The goroutine stays locked to
// its OS thread until Release, since clipboard ownership is per thread.
func (system) Acquire() (Lease, error) {
	runtime.LockOSThread()
	r, _, callErr := procOpenClipboard.Call(0)
	if r == 0 {
		runtime.UnlockOSThread()
		return nil, &ContentionError{Owner: currentOwner(), Err: callErr}
	}
	return &lease{}, nil
}

func currentOwner() Owner {
	hwnd, _, _ := procGetOpenClipboardWindow.Call()
	o := Owner{Window: hwnd}
	if hwnd == 0 {
		return o
	}
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(windows.HWND(hwnd), &pid); err != nil {
		return o
	}
	o.PID = pid
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return o
	}
	defer windows.CloseHandle(h)
	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err == nil {
		o.Process = windows.UTF16ToString(buf[:size])
	}
	return o
}

type lease struct {
	released bool
}

func (l *lease) SetText(text string) error {
	if l.released {
		return ErrReleased
	}
	utf16, err := windows.UTF16FromString(text)
	if err != nil {
		return err
	}
	if r, _, err := procEmptyClipboard.Call(); r == 0 {
		return fmt.Errorf("EmptyClipboard: %w", err)
	}
	size := uintptr(len(utf16) * 2)
	h, _, err := procGlobalAlloc.Call(gmemMoveable, size)
	if h == 0 {
		return fmt.Errorf("GlobalAlloc: %w", err)
	}
	p, _, err := procGlobalLock.Call(h)
	if p == 0 {
		procGlobalFree.Call(h)
		return fmt.Errorf("GlobalLock: %w", err)
	}
	copy(unsafe.Slice((*uint16)(unsafe.Pointer(p)), len(utf16)), utf16)
	procGlobalUnlock.Call(h)
	if r, _, err := procSetClipboardData.Call(cfUnicodeText, h); r == 0 {
		procGlobalFree.Call(h)
		return fmt.Errorf("SetClipboardData: %w", err)
	}
	return nil
}

func (l *lease) Text() (string, error) {
	if l.released {
		return "", ErrReleased
	}
	h, _, _ := procGetClipboardData.Call(cfUnicodeText)
	if h == 0 {
		return "", nil
	}
	p, _, err := procGlobalLock.Call(h)
	if p == 0 {
		return "", fmt.Errorf("GlobalLock: %w", err)
	}
	defer procGlobalUnlock.Call(h)
	return windows.UTF16PtrToString((*uint16)(unsafe.Pointer(p))), nil
}

func (l *lease) Release() error {
	if l.released {
		return nil
	}
	l.released = true
	defer runtime.UnlockOSThread()
	if r, _, err := procCloseClipboard.Call(); r == 0 {
		return fmt.Errorf("CloseClipboard: %w", err)
	}
	return nil
}
