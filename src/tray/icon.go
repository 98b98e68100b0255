package tray

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"runtime"

	"croquis-timer/src/screenshot"
)

const iconSize = 16

// drawIcon renders a stopwatch: a filled dial with a hand and a crown.
func drawIcon(fill color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	ink := color.RGBA{0x33, 0x33, 0x33, 0xff}
	const cx, cy, r = 8, 9, 6
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			d := (x-cx)*(x-cx) + (y-cy)*(y-cy)
			switch {
			case d <= (r-1)*(r-1):
				img.Set(x, y, fill)
			case d <= r*r+1:
				img.Set(x, y, ink)
			}
		}
	}
	for y := cy - 4; y <= cy; y++ {
		img.Set(cx, y, ink)
	}
	for x := cx - 1; x <= cx+1; x++ {
		img.Set(x, 1, ink)
	}
	img.Set(cx, 2, ink)
	return img
}

// iconBytes returns the icon in the format the platform tray expects.
func iconBytes(fill color.RGBA) []byte {
	data, err := screenshot.EncodePNG(drawIcon(fill))
	if err != nil {
		return nil
	}
	if runtime.GOOS == "windows" {
		return wrapICO(data)
	}
	return data
}

// wrapICO wraps a PNG in a single-image ICO container.
func wrapICO(png []byte) []byte {
	var buf bytes.Buffer
	// ICONDIR
	_ = binary.Write(&buf, binary.LittleEndian, []uint16{0, 1, 1})
	// ICONDIRENTRY
	buf.Write([]byte{iconSize, iconSize, 0, 0})
	_ = binary.Write(&buf, binary.LittleEndian, []uint16{1, 32})
	_ = binary.Write(&buf, binary.LittleEndian, []uint32{uint32(len(png)), 6 + 16})
	buf.Write(png)
	return buf.Bytes()
}

var (
	runningFill = color.RGBA{0x4c, 0xaf, 0x50, 0xff}
	pausedFill  = color.RGBA{0xff, 0xc1, 0x07, 0xff}
	idleFill    = color.RGBA{0xbd, 0xbd, 0xbd, 0xff}
)
