package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnionExtents(t *testing.T) {
	var rg = New(Rect{X: 0, Y: 0, W: 10, H: 10}, Rect{X: 20, Y: 20, W: 5, H: 5})
	assert.Equal(t, Rect{X: 0, Y: 0, W: 25, H: 25}, rg.Extents())
}

func TestSubtractRemovesCoveredPixels(t *testing.T) {
	var a = New(Rect{X: 0, Y: 0, W: 10, H: 10})
	var b = New(Rect{X: 3, Y: 3, W: 4, H: 4})

	var got = a.Subtract(b)
	require.False(t, got.Empty())

	// Invariant 3 (subtractRegion): no returned rect may overlap the cut.
	for _, r := range got.Rects() {
		assert.False(t, r.intersects(Rect{X: 3, Y: 3, W: 4, H: 4}))
	}
	// And nothing outside a\b should be reported as covered.
	assert.True(t, a.Subtract(b).Union(b).Subtract(a).Empty())
}

func TestSubtractAllLeavesEmpty(t *testing.T) {
	var a = New(Rect{X: 0, Y: 0, W: 10, H: 10})
	assert.True(t, a.Subtract(a).Empty())
}

func TestIntersectDisjointIsEmpty(t *testing.T) {
	var a = New(Rect{X: 0, Y: 0, W: 5, H: 5})
	var b = New(Rect{X: 100, Y: 100, W: 5, H: 5})
	assert.True(t, a.Intersect(b).Empty())
}

func TestTranslateRoundTrips(t *testing.T) {
	var a = New(Rect{X: 1, Y: 2, W: 3, H: 4})
	var back = a.Translate(5, -5).Translate(-5, 5)
	assert.Equal(t, a.Extents(), back.Extents())
}

// Invariant 1: modified ∩ copy = ∅ after copy is subtracted by modified.
func TestCopySubtractModifiedEstablishesDisjointness(t *testing.T) {
	var modified = New(Rect{X: 0, Y: 0, W: 10, H: 10})
	var copyR = New(Rect{X: 5, Y: 5, W: 10, H: 10})

	copyR = copyR.Subtract(modified)
	assert.True(t, copyR.Intersect(modified).Empty())
}
