package input

import (
	"unicode/utf16"

	"go.uber.org/zap"
)

// Synthesizer turns pointer and keyboard intents into descriptor batches,
// submits each batch through an Injector and classifies the outcome.
//
// It keeps no state between calls. Callers must not run two operations on
// the same OS thread concurrently; the dispatcher serializes remote callers.
type Synthesizer struct {
	injector   Injector
	normalizer *Normalizer
	log        *zap.Logger
}

// NewSynthesizer creates a synthesizer. A nil logger discards output.
func NewSynthesizer(injector Injector, metrics ScreenMetrics, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		injector:   injector,
		normalizer: NewNormalizer(metrics),
		log:        logger,
	}
}

// PointerButton presses or releases a button in place.
func (s *Synthesizer) PointerButton(button Button, action Action) error {
	ev, err := ButtonEvent(button, action)
	if err != nil {
		return err
	}
	return s.submit("pointer_button", []Descriptor{ev})
}

// Click presses then releases a button as two separate submissions.
// A failed press is returned without attempting the release.
func (s *Synthesizer) Click(button Button) error {
	if err := s.PointerButton(button, ActionDown); err != nil {
		return err
	}
	return s.PointerButton(button, ActionUp)
}

// DoubleClick performs two clicks, stopping at the first failure.
func (s *Synthesizer) DoubleClick(button Button) error {
	if err := s.Click(button); err != nil {
		return err
	}
	return s.Click(button)
}

// MoveTo moves the pointer to pixel (x, y) on the primary display.
func (s *Synthesizer) MoveTo(x, y int32) error {
	nx, err := s.normalizer.NormalizeX(x)
	if err != nil {
		return err
	}
	ny, err := s.normalizer.NormalizeY(y)
	if err != nil {
		return err
	}
	return s.submit("move_to", []Descriptor{AbsoluteMove(nx, ny)})
}

// MoveBy moves the pointer by a pixel delta.
func (s *Synthesizer) MoveBy(dx, dy int32) error {
	return s.submit("move_by", []Descriptor{RelativeMove(dx, dy)})
}

// TypeText enters text as UTF-16 code units, a down/up pair per unit, in a
// single submission. Characters outside the BMP become two pairs, high
// surrogate first. Empty text succeeds without touching the host.
func (s *Synthesizer) TypeText(text string) error {
	return s.submit("type_text", textBatch(text))
}

// KeyDown presses a virtual key.
func (s *Synthesizer) KeyDown(vk uint16) error {
	return s.submit("key_down", []Descriptor{VirtualKey(vk, false)})
}

// KeyUp releases a virtual key.
func (s *Synthesizer) KeyUp(vk uint16) error {
	return s.submit("key_up", []Descriptor{VirtualKey(vk, true)})
}

// KeyPress presses and releases a virtual key in one submission.
func (s *Synthesizer) KeyPress(vk uint16) error {
	return s.submit("key_press", []Descriptor{VirtualKey(vk, false), VirtualKey(vk, true)})
}

func textBatch(text string) []Descriptor {
	units := utf16.Encode([]rune(text))
	batch := make([]Descriptor, 0, len(units)*2)
	for _, u := range units {
		batch = append(batch, UnicodeKey(u, false), UnicodeKey(u, true))
	}
	return batch
}

// submit hands the batch to the injector. The host error code is read
// before anything else once a shortfall is seen.
func (s *Synthesizer) submit(op string, batch []Descriptor) error {
	if len(batch) == 0 {
		return nil
	}

	accepted, lastError := s.injector.Inject(batch)
	if int(accepted) >= len(batch) {
		s.log.Debug("batch injected", zap.String("op", op), zap.Int("descriptors", len(batch)))
		return nil
	}

	var code int32
	if lastError != nil {
		code = lastError()
	}

	s.log.Warn("batch rejected",
		zap.String("op", op),
		zap.Int("descriptors", len(batch)),
		zap.Uint32("accepted", accepted),
		zap.Int32("code", code))

	return &InjectionRejectedError{Code: code, Submitted: len(batch), Accepted: accepted}
}
