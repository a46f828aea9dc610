package media

type Placement struct {
	Width  int
	Height int
	X      int
	Y      int
}

// OverlayPlacement scales an overlay to fit the base (aspect preserved),
// centres it horizontally and anchors it to the bottom edge less a margin
// expressed as a fraction of the base height. The result always lies within
// the base.
func OverlayPlacement(baseW, baseH, overlayW, overlayH int, margin float64) Placement {
	if baseW <= 0 || baseH <= 0 || overlayW <= 0 || overlayH <= 0 {
		return Placement{}
	}

	ratio := min(float64(baseW)/float64(overlayW), float64(baseH)/float64(overlayH))
	w := clamp(int(float64(overlayW)*ratio), 1, baseW)
	h := clamp(int(float64(overlayH)*ratio), 1, baseH)

	x := (baseW - w) / 2
	y := clamp(baseH-h-int(float64(baseH)*margin), 0, baseH-h)

	return Placement{Width: w, Height: h, X: x, Y: y}
}

// CollageLayout puts the shop image, scaled to the base height, to the right
// of the base after a gutter. It returns the canvas size and the shop image
// placement.
func CollageLayout(baseW, baseH, shopW, shopH, gutter int) (int, int, Placement) {
	if shopW <= 0 || shopH <= 0 || baseH <= 0 {
		return baseW, baseH, Placement{}
	}

	w := max(1, int(float64(shopW)*float64(baseH)/float64(shopH)))
	shop := Placement{Width: w, Height: baseH, X: baseW + gutter, Y: 0}

	return baseW + gutter + w, baseH, shop
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
