package canvas

import (
	"encoding/json"
	"fmt"
)

// Color is an RGB cell value. The zero value is black, which is also the
// color every cell starts with.
type Color struct {
	R, G, B uint8
}

// NewColor builds a Color from integer components, each of which must lie in
// [0, 255].
func NewColor(r, g, b int) (Color, error) {
	for _, c := range [...]int{r, g, b} {
		if c < 0 || c > 255 {
			return Color{}, fmt.Errorf("%w: component %d outside [0, 255]", ErrInvalidColor, c)
		}
	}
	return Color{R: uint8(r), G: uint8(g), B: uint8(b)}, nil
}

// Packed returns the color as 0xRRGGBB.
func (c Color) Packed() int64 {
	return int64(c.R)<<16 | int64(c.G)<<8 | int64(c.B)
}

// Unpack is the inverse of Packed. Bits above the low 24 are ignored.
func Unpack(v int64) Color {
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// MarshalJSON encodes the color as a [r, g, b] array.
func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]int{int(c.R), int(c.G), int(c.B)})
}

func (c *Color) UnmarshalJSON(data []byte) error {
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("%w: expected [r, g, b], got %d components", ErrInvalidColor, len(raw))
	}
	parsed, err := NewColor(raw[0], raw[1], raw[2])
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
