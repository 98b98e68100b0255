package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/kbinani/screenshot"
)

// MinSelectionSize is the smallest width and height a selection may have.
// Anything smaller counts as no selection at all.
const MinSelectionSize = 10

// Region represents a screen region in virtual-screen coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether the region satisfies the minimum selection size.
func (r Region) Valid() bool {
	return r.Width >= MinSelectionSize && r.Height >= MinSelectionSize
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// RegionBetween normalizes two corner points into a region.
func RegionBetween(x0, y0, x1, y1 int) Region {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return Region{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// CaptureDisplay captures the entire virtual screen across all active displays.
// The returned point is the virtual-screen coordinate of the image's top-left pixel.
func CaptureDisplay() (*image.RGBA, image.Point, error) {
	union, err := VirtualBounds()
	if err != nil {
		return nil, image.Point{}, err
	}
	img, err := screenshot.CaptureRect(union)
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("failed to capture display: %w", err)
	}
	return img, union.Min, nil
}

// Crop copies the part of img covered by region. origin is the virtual-screen
// position of img's top-left pixel, as returned by CaptureDisplay.
func Crop(img *image.RGBA, origin image.Point, region Region) (*image.RGBA, error) {
	if region.Width <= 0 || region.Height <= 0 {
		return nil, fmt.Errorf("invalid region dimensions: width=%d, height=%d", region.Width, region.Height)
	}
	b := img.Bounds()
	r := region.Rect().Sub(origin).Add(b.Min).Intersect(b)
	if r.Empty() {
		return nil, fmt.Errorf("region %+v is outside the captured display", region)
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out, nil
}

// EncodePNG encodes img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image as PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// VirtualBounds returns the union of all active display bounds.
func VirtualBounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays found")
	}
	union := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		union = union.Union(screenshot.GetDisplayBounds(i))
	}
	return union, nil
}
