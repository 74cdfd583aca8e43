package canvas

import (
	"encoding/json"
	"fmt"
)

// Change is one cell whose color differs from a session's last snapshot.
type Change struct {
	X, Y  int
	Color Color
}

// MarshalJSON encodes the change as a flat [x, y, r, g, b] array.
func (c Change) MarshalJSON() ([]byte, error) {
	return json.Marshal([5]int{c.X, c.Y, int(c.Color.R), int(c.Color.G), int(c.Color.B)})
}

func (c *Change) UnmarshalJSON(data []byte) error {
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 5 {
		return fmt.Errorf("change must be [x, y, r, g, b], got %d elements", len(raw))
	}
	color, err := NewColor(raw[2], raw[3], raw[4])
	if err != nil {
		return err
	}
	*c = Change{X: raw[0], Y: raw[1], Color: color}
	return nil
}

// Delta is the result of ComputeDelta.
type Delta struct {
	SessionID string
	Width     int
	Height    int
	Changes   []Change
}

// Diff returns every cell where current differs from snapshot, in row-major
// order (y outer, x inner). The result is never nil. Both grids must have the
// same dimensions.
func Diff(current, snapshot Grid) []Change {
	if current.width != snapshot.width || current.height != snapshot.height {
		panic(fmt.Sprintf("canvas: diff of %dx%d grid against %dx%d snapshot",
			current.width, current.height, snapshot.width, snapshot.height))
	}
	changes := []Change{}
	for y := 0; y < current.height; y++ {
		row := y * current.width
		for x := 0; x < current.width; x++ {
			if c := current.cells[row+x]; c != snapshot.cells[row+x] {
				changes = append(changes, Change{X: x, Y: y, Color: c})
			}
		}
	}
	return changes
}
