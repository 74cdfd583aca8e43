package canvas

import "fmt"

// Grid is a fixed size width x height array of cells stored row-major.
//
// Grid has value semantics at every copy point that matters: Clone returns
// storage that shares nothing with the receiver, so a session snapshot can
// never be changed by a later write to the live grid.
type Grid struct {
	width, height int
	cells         []Color
}

// NewGrid returns a grid with every cell set to the zero Color.
func NewGrid(width, height int) (Grid, error) {
	if width <= 0 || height <= 0 {
		return Grid{}, fmt.Errorf("grid dimensions must be positive, got %dx%d", width, height)
	}
	return Grid{width: width, height: height, cells: make([]Color, width*height)}, nil
}

func (g Grid) Width() int  { return g.width }
func (g Grid) Height() int { return g.height }

// InBounds reports whether (x, y) addresses a cell.
func (g Grid) InBounds(x, y int) bool {
	return x >= 0 && x < g.width && y >= 0 && y < g.height
}

// At returns the cell at (x, y). The coordinates must be in bounds.
func (g Grid) At(x, y int) Color {
	return g.cells[y*g.width+x]
}

// Set overwrites the cell at (x, y). The coordinates must be in bounds.
func (g Grid) Set(x, y int, c Color) {
	g.cells[y*g.width+x] = c
}

// Clone returns a deep copy of the grid.
func (g Grid) Clone() Grid {
	cells := make([]Color, len(g.cells))
	copy(cells, g.cells)
	return Grid{width: g.width, height: g.height, cells: cells}
}

// copyFrom overwrites g's cells with src's, reusing g's storage. Both grids
// must have the same dimensions.
func (g Grid) copyFrom(src Grid) {
	copy(g.cells, src.cells)
}

// Columns returns the grid as a freshly allocated [x][y] nested slice, the
// layout clients receive on registration.
func (g Grid) Columns() [][]Color {
	out := make([][]Color, g.width)
	for x := range out {
		col := make([]Color, g.height)
		for y := range col {
			col[y] = g.At(x, y)
		}
		out[x] = col
	}
	return out
}
