package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"oaiviewer/internal/models"
	"oaiviewer/pkg/intensity"
)

// LabelColors is the mask overlay palette indexed by label: background is
// transparent, bone labels red and cartilage labels green at half opacity.
// Labels above the last entry use the last colour.
var LabelColors = []color.NRGBA{
	{0, 0, 0, 0},
	{255, 0, 0, 128},
	{0, 255, 0, 128},
	{255, 0, 0, 128},
	{0, 255, 0, 128},
}

// RenderOptions controls how a slice is drawn
type RenderOptions struct {
	Window   intensity.Window
	ShowMask bool
	Caption  string
}

// Renderer draws oriented, windowed slices
type Renderer struct {
	// Size is the longest edge of the output in pixels; 0 keeps the native
	// resolution and only corrects the aspect ratio
	Size int
}

// NewRenderer creates a slice renderer
func NewRenderer(size int) *Renderer {
	return &Renderer{Size: size}
}

// RenderSlice orients img (and mask) for format, applies the window, blends
// the mask labels over the grayscale image and scales to the pixel aspect.
func (r *Renderer) RenderSlice(img, mask *Slice, format models.SourceFormat, opts RenderOptions) (image.Image, error) {
	if mask != nil && (mask.Rows != img.Rows || mask.Cols != img.Cols) {
		return nil, fmt.Errorf("mask slice %dx%d does not match image slice %dx%d", mask.Rows, mask.Cols, img.Rows, img.Cols)
	}
	aspect := img.Aspect()

	oriented, err := Orient(img, format)
	if err != nil {
		return nil, err
	}
	var orientedMask *Slice
	if mask != nil && opts.ShowMask {
		if orientedMask, err = Orient(mask, format); err != nil {
			return nil, err
		}
	}

	windowed := intensity.ApplyWindow(oriented.Pix, opts.Window.Center, opts.Window.Width)
	base := image.NewRGBA(image.Rect(0, 0, oriented.Cols, oriented.Rows))
	for y := 0; y < oriented.Rows; y++ {
		for x := 0; x < oriented.Cols; x++ {
			g := uint8(math.Round(windowed[y*oriented.Cols+x] * 255))
			base.SetRGBA(x, y, color.RGBA{g, g, g, 255})
		}
	}
	if orientedMask != nil {
		overlayLabels(base, orientedMask)
	}

	out := r.scale(base, aspect)
	if opts.Caption != "" {
		DrawCaption(out, opts.Caption, 6, 16)
	}
	return out, nil
}

func overlayLabels(dst *image.RGBA, mask *Slice) {
	for y := 0; y < mask.Rows; y++ {
		for x := 0; x < mask.Cols; x++ {
			label := int(math.Round(mask.At(y, x)))
			if label <= 0 {
				continue
			}
			if label >= len(LabelColors) {
				label = len(LabelColors) - 1
			}
			c := LabelColors[label]
			bg := dst.RGBAAt(x, y)
			a := float64(c.A) / 255
			dst.SetRGBA(x, y, color.RGBA{
				R: blend(bg.R, c.R, a),
				G: blend(bg.G, c.G, a),
				B: blend(bg.B, c.B, a),
				A: 255,
			})
		}
	}
}

func blend(bg, fg uint8, alpha float64) uint8 {
	return uint8(math.Round(float64(bg)*(1-alpha) + float64(fg)*alpha))
}

// scale stretches rows by the pixel aspect and fits the longest edge to Size
func (r *Renderer) scale(src *image.RGBA, aspect float64) *image.RGBA {
	w := float64(src.Bounds().Dx())
	h := float64(src.Bounds().Dy()) * aspect
	if r.Size > 0 {
		f := float64(r.Size) / math.Max(w, h)
		w, h = w*f, h*f
	}
	dw, dh := int(math.Max(1, math.Round(w))), int(math.Max(1, math.Round(h)))
	if dw == src.Bounds().Dx() && dh == src.Bounds().Dy() {
		return src
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// DrawCaption writes white text with a dark shadow at (x, y)
func DrawCaption(dst draw.Image, text string, x, y int) {
	shadow := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{0, 0, 0, 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x + 1), Y: fixed.I(y + 1)},
	}
	shadow.DrawString(text)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// EncodePNG writes img as PNG
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}
