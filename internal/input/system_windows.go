//go:build windows

package input

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Windows implementation backed by user32 SendInput

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procSendInput           = user32.NewProc("SendInput")
	procGetSystemMetrics    = user32.NewProc("GetSystemMetrics")
	procGetMessageExtraInfo = user32.NewProc("GetMessageExtraInfo")
)

const (
	INPUT_MOUSE    = 0
	INPUT_KEYBOARD = 1

	MOUSEEVENTF_MOVE       = 0x0001
	MOUSEEVENTF_LEFTDOWN   = 0x0002
	MOUSEEVENTF_LEFTUP     = 0x0004
	MOUSEEVENTF_RIGHTDOWN  = 0x0008
	MOUSEEVENTF_RIGHTUP    = 0x0010
	MOUSEEVENTF_MIDDLEDOWN = 0x0020
	MOUSEEVENTF_MIDDLEUP   = 0x0040
	MOUSEEVENTF_ABSOLUTE   = 0x8000

	KEYEVENTF_KEYUP   = 0x0002
	KEYEVENTF_UNICODE = 0x0004

	SM_CXSCREEN = 0
	SM_CYSCREEN = 1
)

type mouseInput struct {
	dx          int32
	dy          int32
	mouseData   uint32
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

type keybdInput struct {
	wVk         uint16
	wScan       uint16
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

// rawInput mirrors INPUT. mouseInput is the widest union member, so the
// struct has the native size on both 386 and amd64.
type rawInput struct {
	inputType uint32
	mi        mouseInput
}

var pointerFlags = map[PointerKind]uint32{
	PointerMove:       MOUSEEVENTF_MOVE,
	PointerLeftDown:   MOUSEEVENTF_LEFTDOWN,
	PointerLeftUp:     MOUSEEVENTF_LEFTUP,
	PointerRightDown:  MOUSEEVENTF_RIGHTDOWN,
	PointerRightUp:    MOUSEEVENTF_RIGHTUP,
	PointerMiddleDown: MOUSEEVENTF_MIDDLEDOWN,
	PointerMiddleUp:   MOUSEEVENTF_MIDDLEUP,
}

// SystemInjector injects into the interactive desktop of the calling session
type SystemInjector struct{}

// NewSystemInjector resolves the user32 entry points
func NewSystemInjector() (*SystemInjector, error) {
	for _, p := range []*windows.LazyProc{procSendInput, procGetSystemMetrics, procGetMessageExtraInfo} {
		if err := p.Find(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedPlatform, err)
		}
	}
	return &SystemInjector{}, nil
}

// Inject submits the batch with a single SendInput call. The returned reader
// yields the GetLastError value the runtime captured when the call returned.
func (s *SystemInjector) Inject(batch []Descriptor) (uint32, func() int32) {
	if len(batch) == 0 {
		return 0, func() int32 { return 0 }
	}

	extra, _, _ := procGetMessageExtraInfo.Call()

	inputs := make([]rawInput, len(batch))
	for i, d := range batch {
		inputs[i] = toRawInput(d, extra)
	}

	ret, _, callErr := procSendInput.Call(
		uintptr(len(inputs)),
		uintptr(unsafe.Pointer(&inputs[0])),
		unsafe.Sizeof(inputs[0]),
	)

	var code int32
	if errno, ok := callErr.(windows.Errno); ok {
		code = int32(errno)
	}
	return uint32(ret), func() int32 { return code }
}

// ScreenSize reports SM_CXSCREEN x SM_CYSCREEN. Zero means the query failed.
func (s *SystemInjector) ScreenSize() (int32, int32, error) {
	w, _, _ := procGetSystemMetrics.Call(SM_CXSCREEN)
	h, _, _ := procGetSystemMetrics.Call(SM_CYSCREEN)
	return int32(w), int32(h), nil
}

func toRawInput(d Descriptor, extra uintptr) rawInput {
	switch ev := d.(type) {
	case PointerEvent:
		inp := rawInput{inputType: INPUT_MOUSE}
		inp.mi.dwFlags = pointerFlags[ev.Kind]
		if ev.Kind == PointerMove {
			inp.mi.dx = ev.DX
			inp.mi.dy = ev.DY
			if ev.Absolute {
				inp.mi.dwFlags |= MOUSEEVENTF_ABSOLUTE
			}
		}
		return inp

	case KeyEvent:
		inp := rawInput{inputType: INPUT_KEYBOARD}
		ki := (*keybdInput)(unsafe.Pointer(&inp.mi))
		if ev.Unicode {
			ki.wScan = ev.Unit
			ki.dwFlags = KEYEVENTF_UNICODE
		} else {
			ki.wVk = ev.VirtualKey
		}
		if ev.KeyUp {
			ki.dwFlags |= KEYEVENTF_KEYUP
		}
		ki.dwExtraInfo = extra
		return inp
	}
	return rawInput{}
}
