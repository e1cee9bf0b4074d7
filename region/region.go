// Package region implements the Region collaborator contract described in
// octopus's protocol specification: a set of axis-aligned rectangles
// supporting union, intersection, subtraction, translation and extents.
//
// Regions are the currency the rest of octopus trades in -- the
// modified/copy/requested bookkeeping in package server, the Unacked-Queue
// in package unacked, and the Recursive Splitter in package server all
// operate purely in terms of Region values. The implementation here favors
// correctness and a small, auditable rectangle count over the performance of
// a production window-system region library (e.g. a scanline or interval
// tree based one); it is the reference implementation of the contract, not
// a claim that it's the only one a client of these packages could supply.
package region

// Rect is a half-open rectangle: it covers pixels with X in [X, X+W) and Y
// in [Y, Y+H). A Rect with W<=0 or H<=0 is empty.
type Rect struct {
	X, Y, W, H int
}

// Empty reports whether r covers no pixels.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// X2 returns the exclusive right edge of r.
func (r Rect) X2() int { return r.X + r.W }

// Y2 returns the exclusive bottom edge of r.
func (r Rect) Y2() int { return r.Y + r.H }

func (r Rect) intersects(o Rect) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.X < o.X2() && o.X < r.X2() && r.Y < o.Y2() && o.Y < r.Y2()
}

func (r Rect) intersect(o Rect) Rect {
	var x1, y1 = max(r.X, o.X), max(r.Y, o.Y)
	var x2, y2 = min(r.X2(), o.X2()), min(r.Y2(), o.Y2())
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// Translate returns r shifted by (dx, dy).
func (r Rect) Translate(dx, dy int) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Region is an immutable-by-convention set of rectangles. Callers are
// expected to treat Region values as copy-on-write: every mutating
// operation here returns a new Region rather than mutating its receiver,
// matching the value semantics the rest of octopus assumes when it passes
// Regions by value between Session fields.
type Region struct {
	rects []Rect
}

// New returns a Region covering exactly the given rectangles: empty ones are
// dropped, abutting ones are merged by Normalize, and overlapping ones are
// kept as given.
func New(rects ...Rect) Region {
	var out Region
	for _, r := range rects {
		if !r.Empty() {
			out.rects = append(out.rects, r)
		}
	}
	return out.Normalize()
}

// Rects returns the rectangles covering the Region. The slice must not be
// modified by the caller.
func (rg Region) Rects() []Rect { return rg.rects }

// Empty reports whether the Region covers any pixels.
func (rg Region) Empty() bool { return len(rg.rects) == 0 }

// Extents returns the smallest Rect enclosing the whole Region. It returns
// the zero Rect (empty) if the Region is empty.
func (rg Region) Extents() Rect {
	if len(rg.rects) == 0 {
		return Rect{}
	}
	var ext = rg.rects[0]
	for _, r := range rg.rects[1:] {
		var x1, y1 = min(ext.X, r.X), min(ext.Y, r.Y)
		var x2, y2 = max(ext.X2(), r.X2()), max(ext.Y2(), r.Y2())
		ext = Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
	}
	return ext
}

// Union returns the set union of rg and other.
func (rg Region) Union(other Region) Region {
	var out = append(append([]Rect{}, rg.rects...), other.rects...)
	return New(out...).Normalize()
}

// Intersect returns the set intersection of rg and other.
func (rg Region) Intersect(other Region) Region {
	var out []Rect
	for _, a := range rg.rects {
		for _, b := range other.rects {
			if a.intersects(b) {
				out = append(out, a.intersect(b))
			}
		}
	}
	return New(out...).Normalize()
}

// Subtract returns rg with every pixel also covered by other removed.
func (rg Region) Subtract(other Region) Region {
	var remaining = append([]Rect{}, rg.rects...)
	for _, cut := range other.rects {
		var next []Rect
		for _, r := range remaining {
			next = append(next, subtractOne(r, cut)...)
		}
		remaining = next
	}
	return New(remaining...).Normalize()
}

// subtractOne returns the pieces of r not covered by cut, as up to four
// rectangles (top, bottom, left, right strips around the overlap).
func subtractOne(r, cut Rect) []Rect {
	if !r.intersects(cut) {
		return []Rect{r}
	}
	var out []Rect
	var ov = r.intersect(cut)

	if ov.Y > r.Y { // Strip above the overlap.
		out = append(out, Rect{X: r.X, Y: r.Y, W: r.W, H: ov.Y - r.Y})
	}
	if ov.Y2() < r.Y2() { // Strip below the overlap.
		out = append(out, Rect{X: r.X, Y: ov.Y2(), W: r.W, H: r.Y2() - ov.Y2()})
	}
	if ov.X > r.X { // Strip left of the overlap, bounded to the overlap's rows.
		out = append(out, Rect{X: r.X, Y: ov.Y, W: ov.X - r.X, H: ov.H})
	}
	if ov.X2() < r.X2() { // Strip right of the overlap, bounded to the overlap's rows.
		out = append(out, Rect{X: ov.X2(), Y: ov.Y, W: r.X2() - ov.X2(), H: ov.H})
	}
	return out
}

// Translate returns rg shifted by (dx, dy).
func (rg Region) Translate(dx, dy int) Region {
	var out = make([]Rect, len(rg.rects))
	for i, r := range rg.rects {
		out[i] = r.Translate(dx, dy)
	}
	return Region{rects: out}
}

// Normalize merges rectangles that abut along a full shared edge, bounding
// the growth of the rectangle list under repeated Union calls. It is not a
// full minimal-rectangle-cover algorithm: it only merges exact horizontal
// neighbors sharing a (y, h) band and exact vertical neighbors sharing an
// (x, w) column; overlapping rectangles are not merged. That is the pattern that
// arises from the splitter's own strip generation and from repeated
// Subtract/Union cycles in region accounting.
func (rg Region) Normalize() Region {
	if len(rg.rects) < 2 {
		return rg
	}
	var merged = append([]Rect{}, rg.rects...)
	var changed = true
	for changed {
		changed = false
		for i := 0; i < len(merged); i++ {
			for j := i + 1; j < len(merged); j++ {
				if m, ok := mergeAdjacent(merged[i], merged[j]); ok {
					merged[i] = m
					merged = append(merged[:j], merged[j+1:]...)
					changed = true
					break
				}
			}
			if changed {
				break
			}
		}
	}
	return Region{rects: merged}
}

func mergeAdjacent(a, b Rect) (Rect, bool) {
	if a.Y == b.Y && a.H == b.H {
		if a.X2() == b.X {
			return Rect{X: a.X, Y: a.Y, W: a.W + b.W, H: a.H}, true
		}
		if b.X2() == a.X {
			return Rect{X: b.X, Y: b.Y, W: a.W + b.W, H: a.H}, true
		}
	}
	if a.X == b.X && a.W == b.W {
		if a.Y2() == b.Y {
			return Rect{X: a.X, Y: a.Y, W: a.W, H: a.H + b.H}, true
		}
		if b.Y2() == a.Y {
			return Rect{X: b.X, Y: b.Y, W: a.W, H: a.H + b.H}, true
		}
	}
	return Rect{}, false
}
