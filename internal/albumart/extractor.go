// Package albumart reduces album art to the single color sent to the lights.
package albumart

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	_ "golang.org/x/image/webp"

	"github.com/dokzlo13/tracklight/internal/rgb"
)

// ErrImageDecode is returned when the image bytes cannot be decoded.
var ErrImageDecode = errors.New("image decode failed")

// Options tunes the reduction pipeline.
type Options struct {
	// Fuzz is the tolerance, as a fraction of the channel range, within which
	// a pixel counts as pure white or pure black.
	Fuzz float64
	// PaletteSize is the number of colors the opaque pixels are quantized to.
	PaletteSize int
	// SaturationBoost multiplies HSL saturation of every palette entry.
	SaturationBoost float64
	// MaxSamples bounds the number of kept pixels fed to quantization.
	// Larger sets are subsampled at an even stride after neutral suppression.
	MaxSamples int
	// Fallback is returned when no pixel survives neutral suppression.
	Fallback rgb.Color
}

// DefaultOptions returns the standard pipeline settings.
func DefaultOptions() Options {
	return Options{
		Fuzz:            0.15,
		PaletteSize:     5,
		SaturationBoost: 10,
		MaxSamples:      160 * 160,
		Fallback:        rgb.Gray,
	}
}

// Extractor turns encoded images into a dominant color.
// It holds no mutable state and is safe for concurrent use.
type Extractor struct {
	opts Options
}

// NewExtractor creates an Extractor. A negative Fuzz and non-positive sizes
// or boost take their defaults; a zero Fuzz suppresses only exact white and black.
func NewExtractor(opts Options) *Extractor {
	def := DefaultOptions()
	if opts.Fuzz < 0 {
		opts.Fuzz = def.Fuzz
	}
	if opts.PaletteSize <= 0 {
		opts.PaletteSize = def.PaletteSize
	}
	if opts.SaturationBoost <= 0 {
		opts.SaturationBoost = def.SaturationBoost
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = def.MaxSamples
	}
	return &Extractor{opts: opts}
}

// Fallback returns the color used for images without usable pixels.
func (e *Extractor) Fallback() rgb.Color {
	return e.opts.Fallback
}

// Extract decodes data and runs the pipeline: neutral suppression at full
// resolution, quantization, saturation boost and a transparency-aware average.
func (e *Extractor) Extract(data []byte) (rgb.Color, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return rgb.Color{}, fmt.Errorf("%w: %w", ErrImageDecode, err)
	}

	pixels := sample(e.opaquePixels(img), e.opts.MaxSamples)
	if len(pixels) == 0 {
		return e.opts.Fallback, nil
	}

	palette := quantize(pixels, e.opts.PaletteSize)
	for i := range palette {
		palette[i].color = boostSaturation(palette[i].color, e.opts.SaturationBoost)
	}

	return average(palette), nil
}

// sample keeps at most limit pixels, taken at an even stride.
func sample(pixels []rgb.Color, limit int) []rgb.Color {
	if len(pixels) <= limit {
		return pixels
	}
	stride := (len(pixels) + limit - 1) / limit
	out := make([]rgb.Color, 0, limit)
	for i := 0; i < len(pixels); i += stride {
		out = append(out, pixels[i])
	}
	return out
}

// opaquePixels returns the pixels left after transparent and near-neutral
// pixels are removed.
func (e *Extractor) opaquePixels(img image.Image) []rgb.Color {
	b := img.Bounds()
	limit := e.opts.Fuzz * 255
	limitSq := limit * limit

	pixels := make([]rgb.Color, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			p := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if p.A == 0 {
				continue
			}
			c := rgb.New(p.R, p.G, p.B)
			if meanSquareDistance(c, rgb.New(255, 255, 255)) <= limitSq ||
				meanSquareDistance(c, rgb.New(0, 0, 0)) <= limitSq {
				continue
			}
			pixels = append(pixels, c)
		}
	}
	return pixels
}

// meanSquareDistance is the squared RMS channel difference of two colors.
func meanSquareDistance(a, b rgb.Color) float64 {
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	return (dr*dr + dg*dg + db*db) / 3
}

// boostSaturation scales HSL saturation, keeping hue and lightness.
func boostSaturation(c rgb.Color, factor float64) rgb.Color {
	cf := colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
	h, s, l := cf.Hsl()
	s = math.Min(1, s*factor)
	r, g, b := colorful.Hsl(h, s, l).Clamped().RGB255()
	return rgb.New(r, g, b)
}

// average is the one-pixel area average: palette entries weighted by the
// number of pixels mapped to them.
func average(palette []swatch) rgb.Color {
	var sr, sg, sb, total float64
	for _, s := range palette {
		w := float64(s.weight)
		sr += float64(s.color.R) * w
		sg += float64(s.color.G) * w
		sb += float64(s.color.B) * w
		total += w
	}
	if total == 0 {
		return rgb.Color{}
	}
	return rgb.New(
		uint8(math.Round(sr/total)),
		uint8(math.Round(sg/total)),
		uint8(math.Round(sb/total)),
	)
}
