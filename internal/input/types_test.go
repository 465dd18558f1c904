package input

import (
	"errors"
	"testing"
)

func TestButtonEventZeroesCoordinates(t *testing.T) {
	cases := []struct {
		button Button
		action Action
		kind   PointerKind
	}{
		{ButtonLeft, ActionDown, PointerLeftDown},
		{ButtonLeft, ActionUp, PointerLeftUp},
		{ButtonRight, ActionDown, PointerRightDown},
		{ButtonRight, ActionUp, PointerRightUp},
		{ButtonMiddle, ActionDown, PointerMiddleDown},
		{ButtonMiddle, ActionUp, PointerMiddleUp},
	}

	for _, c := range cases {
		ev, err := ButtonEvent(c.button, c.action)
		if err != nil {
			t.Fatalf("ButtonEvent(%s, %s): %v", c.button, c.action, err)
		}
		want := PointerEvent{Kind: c.kind}
		if ev != want {
			t.Errorf("ButtonEvent(%s, %s): expected %+v, got %+v", c.button, c.action, want, ev)
		}
	}
}

func TestKeyConstructorsPopulateOneCode(t *testing.T) {
	u := UnicodeKey(0x20AC, true)
	if u.VirtualKey != 0 || !u.Unicode || u.Unit != 0x20AC || !u.KeyUp {
		t.Errorf("Unexpected unicode key event: %+v", u)
	}

	v := VirtualKey(0x41, false)
	if v.Unit != 0 || v.Unicode || v.VirtualKey != 0x41 || v.KeyUp {
		t.Errorf("Unexpected virtual key event: %+v", v)
	}
}

func TestParseButton(t *testing.T) {
	cases := map[string]Button{
		"left":   ButtonLeft,
		"LEFT":   ButtonLeft,
		"1":      ButtonLeft,
		"":       ButtonLeft,
		"right":  ButtonRight,
		"2":      ButtonRight,
		"middle": ButtonMiddle,
		" 3 ":    ButtonMiddle,
	}
	for in, want := range cases {
		got, err := ParseButton(in)
		if err != nil {
			t.Errorf("ParseButton(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseButton(%q): expected %s, got %s", in, want, got)
		}
	}

	if _, err := ParseButton("x1"); !errors.Is(err, ErrUnknownButton) {
		t.Errorf("Expected ErrUnknownButton, got %v", err)
	}
}

func TestDryRunInjectorAcceptsEverything(t *testing.T) {
	d := NewDryRunInjector(1280, 720, nil)
	s := NewSynthesizer(d, d, nil)

	if err := s.MoveTo(640, 360); err != nil {
		t.Fatalf("MoveTo failed: %v", err)
	}
	if err := s.TypeText("ok"); err != nil {
		t.Fatalf("TypeText failed: %v", err)
	}

	accepted, _ := d.Inject(textBatch("abc"))
	if accepted != 6 {
		t.Errorf("Expected 6 accepted descriptors, got %d", accepted)
	}
}
