package input

import (
	"fmt"

	"go.uber.org/zap"
)

// DryRunInjector accepts every batch and logs its descriptors instead of
// touching the host. It reports a fixed screen extent.
type DryRunInjector struct {
	width  int32
	height int32
	log    *zap.Logger
}

// NewDryRunInjector creates an injector that only logs.
func NewDryRunInjector(width, height int32, logger *zap.Logger) *DryRunInjector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRunInjector{width: width, height: height, log: logger}
}

func (d *DryRunInjector) Inject(batch []Descriptor) (uint32, func() int32) {
	for i, desc := range batch {
		switch ev := desc.(type) {
		case PointerEvent:
			d.log.Info("dry-run pointer",
				zap.Int("index", i),
				zap.Stringer("kind", ev.Kind),
				zap.Int32("dx", ev.DX),
				zap.Int32("dy", ev.DY),
				zap.Bool("absolute", ev.Absolute))
		case KeyEvent:
			fields := []zap.Field{zap.Int("index", i), zap.Bool("up", ev.KeyUp)}
			if ev.Unicode {
				fields = append(fields, zap.String("unit", fmt.Sprintf("U+%04X", ev.Unit)))
			} else {
				fields = append(fields, zap.Uint16("vk", ev.VirtualKey))
			}
			d.log.Info("dry-run key", fields...)
		}
	}
	return uint32(len(batch)), func() int32 { return 0 }
}

func (d *DryRunInjector) ScreenSize() (int32, int32, error) {
	return d.width, d.height, nil
}
