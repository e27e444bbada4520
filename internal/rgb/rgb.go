// Package rgb defines the 8-bit RGB color value shared by the extractor and the lights.
package rgb

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is an immutable 24-bit color. Equality is exact channel equality.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Gray is the neutral mid-gray used when an image has no usable pixels.
var Gray = Color{R: 128, G: 128, B: 128}

// New returns a Color from its channels.
func New(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b}
}

// FromInt unpacks a 0xRRGGBB value.
func FromInt(v int) Color {
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

// Int packs the color as 0xRRGGBB.
func (c Color) Int() int {
	return int(c.R)<<16 | int(c.G)<<8 | int(c.B)
}

// String renders the color as #rrggbb.
func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Parse reads a #rrggbb or rrggbb hex string.
func Parse(s string) (Color, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return Color{}, fmt.Errorf("invalid color %q: want 6 hex digits", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return FromInt(int(v)), nil
}
