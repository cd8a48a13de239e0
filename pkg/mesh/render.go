package mesh

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"oaiviewer/pkg/visualization"
)

// Scene describes what to draw on one panel
type Scene struct {
	// Field is the scalar field used for colour; empty draws plain bone
	Field   string
	Lo, Hi  float64
	Caption string
}

// Renderer draws meshes with an isometric camera looking down (1,1,1)
// toward the mesh centre with z up, on a black background
type Renderer struct {
	Width, Height int
	Colormap      *Colormap
	ColorBar      bool
}

var (
	boneColor  = color.NRGBA{230, 220, 200, 255}
	background = color.RGBA{0, 0, 0, 255}
)

const (
	colorBarWidth = 14
	// room on the right for the bar and its labels
	colorBarMargin = 70
)

// NewRenderer creates a renderer for width x height panels
func NewRenderer(width, height int, cmap *Colormap) *Renderer {
	if cmap == nil {
		cmap = NewColormap(DefaultBins)
	}
	return &Renderer{Width: width, Height: height, Colormap: cmap, ColorBar: true}
}

// camera is an orthographic view basis
type camera struct {
	center     r3.Vec
	right, up  r3.Vec
	toward     r3.Vec
	scale      float64
	offX, offY float64
}

func isometricCamera(m *Mesh, width, height int) camera {
	toward := r3.Unit(r3.Vec{X: 1, Y: 1, Z: 1})
	right := r3.Unit(r3.Cross(r3.Scale(-1, toward), r3.Vec{Z: 1}))
	up := r3.Cross(right, r3.Scale(-1, toward))

	cam := camera{center: m.Center(), right: right, up: up, toward: toward}

	// fit the projected extent with a margin
	var maxX, maxY float64
	for _, v := range m.Vertices {
		d := r3.Sub(v, cam.center)
		maxX = math.Max(maxX, math.Abs(r3.Dot(d, right)))
		maxY = math.Max(maxY, math.Abs(r3.Dot(d, up)))
	}
	cam.scale = 1
	if maxX > 0 || maxY > 0 {
		cam.scale = 0.9 * math.Min(float64(width)/(2*math.Max(maxX, 1e-9)), float64(height)/(2*math.Max(maxY, 1e-9)))
	}
	cam.offX, cam.offY = float64(width)/2, float64(height)/2
	return cam
}

// project returns screen x, y and a depth that grows toward the viewer
func (c camera) project(v r3.Vec) (x, y, depth float64) {
	d := r3.Sub(v, c.center)
	return c.offX + r3.Dot(d, c.right)*c.scale,
		c.offY - r3.Dot(d, c.up)*c.scale,
		r3.Dot(d, c.toward)
}

// Render draws one mesh. The field named by the scene must be bound.
func (r *Renderer) Render(m *Mesh, sc Scene) (*image.RGBA, error) {
	var colors []color.NRGBA
	if sc.Field != "" {
		values, ok := m.Field(sc.Field)
		if !ok {
			return nil, fmt.Errorf("mesh has no scalar field %q", sc.Field)
		}
		colors = r.Colormap.MapAll(values, sc.Lo, sc.Hi)
	}

	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	viewW := r.Width
	if sc.Field != "" && r.ColorBar {
		viewW = max(r.Width-colorBarMargin, r.Width/2)
	}
	r.rasterize(img, m, colors, viewW)

	if sc.Field != "" && r.ColorBar {
		r.drawColorBar(img, sc.Lo, sc.Hi, viewW)
	}
	if sc.Caption != "" {
		visualization.DrawCaption(img, sc.Caption, 6, 16)
	}
	return img, nil
}

func (r *Renderer) rasterize(img *image.RGBA, m *Mesh, colors []color.NRGBA, viewW int) {
	if len(m.Faces) == 0 {
		return
	}
	cam := isometricCamera(m, viewW, r.Height)

	type screenVertex struct{ x, y, z float64 }
	sv := make([]screenVertex, len(m.Vertices))
	for i, v := range m.Vertices {
		x, y, z := cam.project(v)
		sv[i] = screenVertex{x, y, z}
	}

	zbuf := make([]float64, viewW*r.Height)
	for i := range zbuf {
		zbuf[i] = math.Inf(-1)
	}

	for fi, f := range m.Faces {
		a, b, c := sv[f[0]], sv[f[1]], sv[f[2]]
		area := (b.x-a.x)*(c.y-a.y) - (b.y-a.y)*(c.x-a.x)
		if area == 0 {
			continue
		}

		// headlight, lit from both sides
		shade := 0.25 + 0.75*math.Abs(r3.Dot(m.FaceNormal(fi), cam.toward))

		x0 := max(0, int(math.Floor(math.Min(a.x, math.Min(b.x, c.x)))))
		x1 := min(viewW-1, int(math.Ceil(math.Max(a.x, math.Max(b.x, c.x)))))
		y0 := max(0, int(math.Floor(math.Min(a.y, math.Min(b.y, c.y)))))
		y1 := min(r.Height-1, int(math.Ceil(math.Max(a.y, math.Max(b.y, c.y)))))

		for y := y0; y <= y1; y++ {
			py := float64(y) + 0.5
			for x := x0; x <= x1; x++ {
				px := float64(x) + 0.5
				w0 := ((b.x-px)*(c.y-py) - (b.y-py)*(c.x-px)) / area
				w1 := ((c.x-px)*(a.y-py) - (c.y-py)*(a.x-px)) / area
				w2 := 1 - w0 - w1
				if w0 < 0 || w1 < 0 || w2 < 0 {
					continue
				}
				z := w0*a.z + w1*b.z + w2*c.z
				idx := y*viewW + x
				if z <= zbuf[idx] {
					continue
				}
				zbuf[idx] = z

				col := [3]float64{float64(boneColor.R), float64(boneColor.G), float64(boneColor.B)}
				if colors != nil {
					ca, cb, cc := colors[f[0]], colors[f[1]], colors[f[2]]
					col = [3]float64{
						w0*float64(ca.R) + w1*float64(cb.R) + w2*float64(cc.R),
						w0*float64(ca.G) + w1*float64(cb.G) + w2*float64(cc.G),
						w0*float64(ca.B) + w1*float64(cb.B) + w2*float64(cc.B),
					}
				}
				img.SetRGBA(x, y, color.RGBA{
					R: uint8(math.Min(255, col[0]*shade)),
					G: uint8(math.Min(255, col[1]*shade)),
					B: uint8(math.Min(255, col[2]*shade)),
					A: 255,
				})
			}
		}
	}
}

// drawColorBar paints the colormap bottom (lo) to top (hi) right of the view
func (r *Renderer) drawColorBar(img *image.RGBA, lo, hi float64, viewW int) {
	top, bottom := 28, r.Height-20
	if bottom-top < 10 {
		return
	}
	x0 := viewW + 8
	n := r.Colormap.Len()
	for y := top; y < bottom; y++ {
		frac := float64(bottom-1-y) / float64(bottom-top-1)
		bin := min(n-1, int(frac*float64(n)))
		c := r.Colormap.Bin(bin)
		for x := x0; x < x0+colorBarWidth && x < r.Width; x++ {
			img.Set(x, y, c)
		}
	}
	visualization.DrawCaption(img, fmt.Sprintf("%.2f", hi), x0, top-4)
	visualization.DrawCaption(img, fmt.Sprintf("%.2f", lo), x0, bottom+14)
}

// RenderGrid lays panels out cols wide, filling row by row. A nil mesh is
// drawn as a "no data" tile with its caption.
func (r *Renderer) RenderGrid(meshes []*Mesh, scenes []Scene, cols int) (*image.RGBA, error) {
	if len(meshes) != len(scenes) {
		return nil, fmt.Errorf("%d meshes but %d scenes", len(meshes), len(scenes))
	}
	if cols < 1 {
		cols = 1
	}
	rows := (len(meshes) + cols - 1) / cols
	grid := image.NewRGBA(image.Rect(0, 0, cols*r.Width, max(rows, 1)*r.Height))
	draw.Draw(grid, grid.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	for i, m := range meshes {
		var (
			tile *image.RGBA
			err  error
		)
		if m == nil {
			tile = r.noDataTile(scenes[i].Caption)
		} else if tile, err = r.Render(m, scenes[i]); err != nil {
			return nil, fmt.Errorf("panel %d: %w", i, err)
		}
		at := image.Pt((i%cols)*r.Width, (i/cols)*r.Height)
		draw.Draw(grid, tile.Bounds().Add(at), tile, image.Point{}, draw.Src)
	}
	return grid, nil
}

func (r *Renderer) noDataTile(caption string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{24, 24, 24, 255}), image.Point{}, draw.Src)
	if caption != "" {
		visualization.DrawCaption(img, caption, 6, 16)
	}
	visualization.DrawCaption(img, "no data", r.Width/2-24, r.Height/2)
	return img
}
