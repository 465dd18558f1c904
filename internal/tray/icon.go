package tray

import (
	"bytes"
	"encoding/binary"
)

const iconSize = 16

// pointerGlyph is a 16x16 arrow cursor. '#' is the fill, '.' the outline.
var pointerGlyph = [iconSize]string{
	".               ",
	"..              ",
	".#.             ",
	".##.            ",
	".###.           ",
	".####.          ",
	".#####.         ",
	".######.        ",
	".#######.       ",
	".########.      ",
	".#####.....     ",
	".##.##.         ",
	".#. .##.        ",
	"..  .##.        ",
	"     .##.       ",
	"     ....       ",
}

// getIcon renders pointerGlyph as a single-image 32-bit ICO
func getIcon() []byte {
	const (
		headerSize = 6
		entrySize  = 16
		dibSize    = 40
		pixelBytes = iconSize * iconSize * 4
		maskStride = 4 // 16 bits padded to 32
		maskBytes  = iconSize * maskStride
	)
	imageSize := uint32(dibSize + pixelBytes + maskBytes)

	var buf bytes.Buffer
	le := func(v any) { binary.Write(&buf, binary.LittleEndian, v) }

	// ICONDIR
	le(uint16(0))
	le(uint16(1))
	le(uint16(1))

	// ICONDIRENTRY
	buf.Write([]byte{iconSize, iconSize, 0, 0})
	le(uint16(1))
	le(uint16(32))
	le(imageSize)
	le(uint32(headerSize + entrySize))

	// BITMAPINFOHEADER, height doubled for the AND mask
	le(uint32(dibSize))
	le(int32(iconSize))
	le(int32(iconSize * 2))
	le(uint16(1))
	le(uint16(32))
	le(uint32(0))
	le(uint32(pixelBytes + maskBytes))
	le([4]uint32{})

	// BGRA rows, bottom-up
	for y := iconSize - 1; y >= 0; y-- {
		for _, c := range pointerGlyph[y] {
			switch c {
			case '#':
				buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
			case '.':
				buf.Write([]byte{0x20, 0x20, 0x20, 0xff})
			default:
				buf.Write([]byte{0, 0, 0, 0})
			}
		}
	}

	// Alpha carries transparency, so the AND mask stays clear
	buf.Write(make([]byte, maskBytes))

	return buf.Bytes()
}
