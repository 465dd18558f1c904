package input

import "fmt"

// absoluteRange is the logical span of normalized absolute coordinates.
const absoluteRange = 65536

// Normalizer maps pixel coordinates on the primary display to the
// normalized absolute space expected by the injection primitive.
// The extent is queried on every call and never cached.
type Normalizer struct {
	metrics ScreenMetrics
}

// NewNormalizer creates a normalizer backed by the given metrics source
func NewNormalizer(metrics ScreenMetrics) *Normalizer {
	return &Normalizer{metrics: metrics}
}

// NormalizeX converts a pixel column to normalized space.
func (n *Normalizer) NormalizeX(x int32) (int32, error) {
	width, _, err := n.extent()
	if err != nil {
		return 0, err
	}
	return scale(x, width)
}

// NormalizeY converts a pixel row to normalized space.
func (n *Normalizer) NormalizeY(y int32) (int32, error) {
	_, height, err := n.extent()
	if err != nil {
		return 0, err
	}
	return scale(y, height)
}

func (n *Normalizer) extent() (int32, int32, error) {
	if n.metrics == nil {
		return 0, 0, ErrMetricsUnavailable
	}
	w, h, err := n.metrics.ScreenSize()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
	}
	return w, h, nil
}

// scale computes (pixel*65536)/extent with truncating division. The product
// is taken in 64 bits so it cannot overflow before dividing.
func scale(pixel, extent int32) (int32, error) {
	if extent <= 0 {
		return 0, fmt.Errorf("%w: extent %d", ErrMetricsUnavailable, extent)
	}
	return int32(int64(pixel) * absoluteRange / int64(extent)), nil
}
