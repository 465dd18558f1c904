// Package input synthesizes pointer and keyboard events and submits them to
// the host's input-injection primitive as if they came from physical hardware.
package input

import (
	"fmt"
	"strings"
)

// Button identifies a pointer button
type Button int

const (
	ButtonLeft Button = iota + 1
	ButtonRight
	ButtonMiddle
)

func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	case ButtonMiddle:
		return "middle"
	default:
		return fmt.Sprintf("button(%d)", int(b))
	}
}

// ParseButton accepts "left", "right", "middle" or their numeric forms 1, 2, 3.
func ParseButton(s string) (Button, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "1", "":
		return ButtonLeft, nil
	case "right", "2":
		return ButtonRight, nil
	case "middle", "3":
		return ButtonMiddle, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownButton, s)
}

// Action is a button or key transition
type Action int

const (
	ActionDown Action = iota
	ActionUp
)

func (a Action) String() string {
	if a == ActionUp {
		return "up"
	}
	return "down"
}

// PointerKind selects what a PointerEvent does
type PointerKind int

const (
	PointerMove PointerKind = iota
	PointerLeftDown
	PointerLeftUp
	PointerRightDown
	PointerRightUp
	PointerMiddleDown
	PointerMiddleUp
)

func (k PointerKind) String() string {
	switch k {
	case PointerMove:
		return "move"
	case PointerLeftDown:
		return "left_down"
	case PointerLeftUp:
		return "left_up"
	case PointerRightDown:
		return "right_down"
	case PointerRightUp:
		return "right_up"
	case PointerMiddleDown:
		return "middle_down"
	case PointerMiddleUp:
		return "middle_up"
	default:
		return fmt.Sprintf("pointer(%d)", int(k))
	}
}

// Descriptor is one synthetic input event. It is implemented only by
// PointerEvent and KeyEvent.
type Descriptor interface {
	descriptor()
}

// PointerEvent is a pointer motion or button transition.
//
// For moves, DX/DY are pixel deltas, or normalized 0-65535 coordinates when
// Absolute is set. Button transitions always carry zero DX/DY.
type PointerEvent struct {
	Kind     PointerKind
	DX       int32
	DY       int32
	Absolute bool
}

func (PointerEvent) descriptor() {}

// KeyEvent is a key transition carrying either a virtual-key code or a
// single UTF-16 code unit, never both.
type KeyEvent struct {
	VirtualKey uint16
	Unit       uint16
	Unicode    bool
	KeyUp      bool
}

func (KeyEvent) descriptor() {}

// AbsoluteMove builds a move to normalized coordinates.
func AbsoluteMove(nx, ny int32) PointerEvent {
	return PointerEvent{Kind: PointerMove, DX: nx, DY: ny, Absolute: true}
}

// RelativeMove builds a move by a pixel delta.
func RelativeMove(dx, dy int32) PointerEvent {
	return PointerEvent{Kind: PointerMove, DX: dx, DY: dy}
}

// ButtonEvent builds a button transition.
func ButtonEvent(button Button, action Action) (PointerEvent, error) {
	kind, err := buttonKind(button, action)
	if err != nil {
		return PointerEvent{}, err
	}
	return PointerEvent{Kind: kind}, nil
}

// UnicodeKey builds a text-injection key transition for one code unit.
func UnicodeKey(unit uint16, up bool) KeyEvent {
	return KeyEvent{Unit: unit, Unicode: true, KeyUp: up}
}

// VirtualKey builds a physical key transition.
func VirtualKey(vk uint16, up bool) KeyEvent {
	return KeyEvent{VirtualKey: vk, KeyUp: up}
}

func buttonKind(button Button, action Action) (PointerKind, error) {
	up := action == ActionUp
	switch button {
	case ButtonLeft:
		if up {
			return PointerLeftUp, nil
		}
		return PointerLeftDown, nil
	case ButtonRight:
		if up {
			return PointerRightUp, nil
		}
		return PointerRightDown, nil
	case ButtonMiddle:
		if up {
			return PointerMiddleUp, nil
		}
		return PointerMiddleDown, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownButton, int(button))
}

// Injector submits a batch of descriptors to the host in order. It returns
// the number of descriptors accepted and a reader for the host error code
// recorded by that call.
type Injector interface {
	Inject(batch []Descriptor) (accepted uint32, lastError func() int32)
}

// ScreenMetrics reports the primary display extent in pixels.
type ScreenMetrics interface {
	ScreenSize() (width, height int32, err error)
}
