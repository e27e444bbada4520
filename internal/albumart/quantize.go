package albumart

import (
	"math"
	"sort"

	"github.com/dokzlo13/tracklight/internal/rgb"
)

// swatch is a palette entry and the number of pixels mapped to it.
type swatch struct {
	color  rgb.Color
	weight int
}

// box is a median-cut bucket of pixels.
type box struct {
	pixels []rgb.Color
}

// widest returns the channel (0=R, 1=G, 2=B) with the largest spread and that spread.
func (b box) widest() (int, int) {
	lo := [3]int{255, 255, 255}
	hi := [3]int{0, 0, 0}
	for _, p := range b.pixels {
		for ch, v := range [3]int{int(p.R), int(p.G), int(p.B)} {
			lo[ch] = min(lo[ch], v)
			hi[ch] = max(hi[ch], v)
		}
	}

	channel, spread := 0, -1
	for ch := range 3 {
		if r := hi[ch] - lo[ch]; r > spread {
			channel, spread = ch, r
		}
	}
	return channel, spread
}

// split sorts the box along channel and cuts it at the median.
func (b box) split(channel int) (box, box) {
	sort.Slice(b.pixels, func(i, j int) bool {
		return channelOf(b.pixels[i], channel) < channelOf(b.pixels[j], channel)
	})
	mid := len(b.pixels) / 2
	return box{pixels: b.pixels[:mid]}, box{pixels: b.pixels[mid:]}
}

func (b box) mean() rgb.Color {
	var sr, sg, sb float64
	for _, p := range b.pixels {
		sr += float64(p.R)
		sg += float64(p.G)
		sb += float64(p.B)
	}
	n := float64(len(b.pixels))
	return rgb.New(
		uint8(math.Round(sr/n)),
		uint8(math.Round(sg/n)),
		uint8(math.Round(sb/n)),
	)
}

func channelOf(c rgb.Color, channel int) uint8 {
	switch channel {
	case 0:
		return c.R
	case 1:
		return c.G
	default:
		return c.B
	}
}

// quantize reduces pixels to at most n colors with median cut, then maps every
// pixel to its nearest palette entry. pixels is reordered in place.
func quantize(pixels []rgb.Color, n int) []swatch {
	if len(pixels) == 0 {
		return nil
	}

	boxes := []box{{pixels: pixels}}
	for len(boxes) < n {
		target, targetChannel, bestSpread := -1, 0, 0
		for i, b := range boxes {
			if len(b.pixels) < 2 {
				continue
			}
			if ch, spread := b.widest(); spread > bestSpread {
				target, targetChannel, bestSpread = i, ch, spread
			}
		}
		if target < 0 {
			break // every box is a single color
		}
		lo, hi := boxes[target].split(targetChannel)
		boxes[target] = lo
		boxes = append(boxes, hi)
	}

	palette := make([]rgb.Color, len(boxes))
	for i, b := range boxes {
		palette[i] = b.mean()
	}

	weights := make([]int, len(palette))
	for _, p := range pixels {
		weights[nearest(palette, p)]++
	}

	swatches := make([]swatch, 0, len(palette))
	for i, c := range palette {
		if weights[i] > 0 {
			swatches = append(swatches, swatch{color: c, weight: weights[i]})
		}
	}
	return swatches
}

func nearest(palette []rgb.Color, p rgb.Color) int {
	best, bestDist := 0, math.MaxFloat64
	for i, c := range palette {
		if d := meanSquareDistance(c, p); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
