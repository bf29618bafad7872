package visual

import "strings"

// Point is a dot coordinate on the canvas, origin top-left.
type Point struct {
	X, Y int
}

// braille dot bits indexed by [row][column] within a 2x4 cell
var brailleBits = [4][2]rune{
	{0x01, 0x08},
	{0x02, 0x10},
	{0x04, 0x20},
	{0x40, 0x80},
}

// Canvas is a monochrome raster drawn with braille characters. Each text
// cell holds 2x4 dots.
type Canvas struct {
	cols, rows int
	cells      []rune
}

// NewCanvas creates a canvas of cols x rows text cells.
func NewCanvas(cols, rows int) *Canvas {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return &Canvas{cols: cols, rows: rows, cells: make([]rune, cols*rows)}
}

// Size returns the canvas size in dots.
func (c *Canvas) Size() (width, height int) {
	return c.cols * 2, c.rows * 4
}

// Clear erases every dot.
func (c *Canvas) Clear() {
	clear(c.cells)
}

// Set lights the dot at (x, y). Out-of-range dots are ignored.
func (c *Canvas) Set(x, y int) {
	w, h := c.Size()
	if x < 0 || y < 0 || x >= w || y >= h {
		return
	}
	c.cells[(y/4)*c.cols+x/2] |= brailleBits[y%4][x%2]
}

// Lit reports whether the dot at (x, y) is set.
func (c *Canvas) Lit(x, y int) bool {
	w, h := c.Size()
	if x < 0 || y < 0 || x >= w || y >= h {
		return false
	}
	return c.cells[(y/4)*c.cols+x/2]&brailleBits[y%4][x%2] != 0
}

// Line draws a segment with Bresenham's algorithm.
func (c *Canvas) Line(x0, y0, x1, y1 int) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// Polyline connects consecutive points.
func (c *Canvas) Polyline(pts []Point) {
	switch len(pts) {
	case 0:
		return
	case 1:
		c.Set(pts[0].X, pts[0].Y)
		return
	}
	for i := 1; i < len(pts); i++ {
		c.Line(pts[i-1].X, pts[i-1].Y, pts[i].X, pts[i].Y)
	}
}

// Lines renders each text row.
func (c *Canvas) Lines() []string {
	lines := make([]string, c.rows)
	var b strings.Builder
	for r := 0; r < c.rows; r++ {
		b.Reset()
		for col := 0; col < c.cols; col++ {
			b.WriteRune(0x2800 + c.cells[r*c.cols+col])
		}
		lines[r] = b.String()
	}
	return lines
}

func (c *Canvas) String() string {
	return strings.Join(c.Lines(), "\n")
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
