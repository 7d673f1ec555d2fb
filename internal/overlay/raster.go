package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"

	_ "image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var (
	boldFontOnce sync.Once
	boldFont     *opentype.Font
)

// faceFor returns a font face at the requested size. The preferred face is
// the embedded Go Bold TTF; if it cannot be parsed or sized the built-in
// bitmap face is used so rendering never fails for lack of a font asset.
func faceFor(points int) font.Face {
	boldFontOnce.Do(func() {
		f, err := opentype.Parse(gobold.TTF)
		if err == nil {
			boldFont = f
		}
	})
	if boldFont != nil {
		face, err := opentype.NewFace(boldFont, &opentype.FaceOptions{
			Size:    float64(points),
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err == nil {
			return face
		}
	}
	return basicfont.Face7x13
}

// overlayRaster decodes the template as a raster image, draws each field
// onto the pixel buffer and re-encodes to PNG.
func (e *Engine) overlayRaster(template []byte, fields []Field) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(template))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	for _, f := range fields {
		face := faceFor(f.Points)
		// Field coordinates are bottom-left origin; image rows run
		// top-down, so flip Y to find the baseline.
		baselineY := bounds.Max.Y - int(f.Y)
		drawer := &font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(color.Black),
			Face: face,
			Dot:  fixed.P(bounds.Min.X+int(f.X), baselineY),
		}
		drawer.DrawString(f.Text)
		if closer, ok := face.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}

	var out bytes.Buffer
	if err := png.Encode(&out, canvas); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return out.Bytes(), nil
}
