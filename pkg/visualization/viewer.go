package visualization

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"oaiviewer/internal/models"
	"oaiviewer/pkg/intensity"
	"oaiviewer/pkg/volume"
)

// Slice is a 2D plane cut from a volume, stored row-major. Spacing holds the
// pixel size of the two array dimensions the plane spans, as cut.
type Slice struct {
	Rows, Cols int
	Pix        []float64
	Spacing    [2]float64
}

// NewSlice allocates a zeroed slice
func NewSlice(rows, cols int, spacing [2]float64) *Slice {
	return &Slice{Rows: rows, Cols: cols, Pix: make([]float64, rows*cols), Spacing: spacing}
}

// At returns pixel (r, c)
func (s *Slice) At(r, c int) float64 {
	return s.Pix[r*s.Cols+c]
}

// Aspect is the display height/width ratio of one pixel
func (s *Slice) Aspect() float64 {
	if s.Spacing[0] <= 0 || s.Spacing[1] <= 0 {
		return 1
	}
	return s.Spacing[1] / s.Spacing[0]
}

// Viewer cuts 2D slices out of a volume and its optional mask
type Viewer struct {
	vol  *volume.Volume
	mask *volume.Volume
}

// NewViewer creates a viewer; mask may be nil. Shapes are checked when
// slices are extracted.
func NewViewer(vol *volume.Volume, mask *volume.Volume) *Viewer {
	return &Viewer{vol: vol, mask: mask}
}

// SliceCount returns the number of slices along an axis
func (v *Viewer) SliceCount(axis models.ViewAxis) int {
	return sliceCount(v.vol, axis)
}

func sliceCount(vol *volume.Volume, axis models.ViewAxis) int {
	switch axis {
	case models.Axial:
		return vol.Dims[2]
	case models.Coronal:
		return vol.Dims[1]
	case models.Sagittal:
		return vol.Dims[0]
	}
	return 0
}

// ErrSliceRange is returned for a slice position past the end of an axis
var ErrSliceRange = errors.New("slice position out of range")

// ResolveIndex maps -1 to the middle slice and checks bounds
func (v *Viewer) ResolveIndex(axis models.ViewAxis, position int) (int, error) {
	n := v.SliceCount(axis)
	if n == 0 {
		return 0, fmt.Errorf("invalid axis: %v", axis)
	}
	if position == -1 {
		return n / 2, nil
	}
	if position < 0 || position >= n {
		return 0, fmt.Errorf("%w: %d outside %s range [0,%d)", ErrSliceRange, position, axis, n)
	}
	return position, nil
}

// ExtractSlice cuts the volume at position along axis (-1 for the middle).
//
//	Axial:    vol[:, :, k], spacing (s0, s1)
//	Coronal:  vol[:, j, :], spacing (s0, s2)
//	Sagittal: vol[i, :, :], spacing (s1, s2)
func (v *Viewer) ExtractSlice(axis models.ViewAxis, position int) (*Slice, error) {
	pos, err := v.ResolveIndex(axis, position)
	if err != nil {
		return nil, err
	}
	return cut(v.vol, axis, pos), nil
}

// ExtractPair cuts the volume and the mask with identical indices. The mask
// slice is nil when the viewer has no mask.
func (v *Viewer) ExtractPair(axis models.ViewAxis, position int) (img, mask *Slice, err error) {
	if err := volume.CheckPair(v.vol, v.mask); err != nil {
		return nil, nil, err
	}
	pos, err := v.ResolveIndex(axis, position)
	if err != nil {
		return nil, nil, err
	}
	img = cut(v.vol, axis, pos)
	if v.mask != nil {
		mask = cut(v.mask, axis, pos)
	}
	return img, mask, nil
}

func cut(vol *volume.Volume, axis models.ViewAxis, pos int) *Slice {
	d, sp := vol.Dims, vol.Spacing

	var s *Slice
	switch axis {
	case models.Axial:
		s = NewSlice(d[0], d[1], [2]float64{sp[0], sp[1]})
		for i := 0; i < d[0]; i++ {
			for j := 0; j < d[1]; j++ {
				s.Pix[i*d[1]+j] = vol.At(i, j, pos)
			}
		}
	case models.Coronal:
		s = NewSlice(d[0], d[2], [2]float64{sp[0], sp[2]})
		for i := 0; i < d[0]; i++ {
			for k := 0; k < d[2]; k++ {
				s.Pix[i*d[2]+k] = vol.At(i, pos, k)
			}
		}
	default:
		s = NewSlice(d[1], d[2], [2]float64{sp[1], sp[2]})
		copy(s.Pix, vol.Data[pos*d[1]*d[2]:(pos+1)*d[1]*d[2]])
	}
	return s
}

// Orient turns an extracted slice into display orientation. Series sources
// are flipped along both axes, packed sources are rotated 90 degrees
// counter-clockwise. Spacing is carried over unchanged.
func Orient(s *Slice, format models.SourceFormat) (*Slice, error) {
	switch format {
	case models.Series:
		return flipBoth(s), nil
	case models.Packed:
		return rot90(s), nil
	default:
		return nil, fmt.Errorf("no display orientation for source format %v", format)
	}
}

func flipBoth(s *Slice) *Slice {
	out := NewSlice(s.Rows, s.Cols, s.Spacing)
	n := len(s.Pix)
	for i, v := range s.Pix {
		out.Pix[n-1-i] = v
	}
	return out
}

// rot90 matches numpy.rot90: out[r][c] = in[c][cols-1-r]
func rot90(s *Slice) *Slice {
	out := NewSlice(s.Cols, s.Rows, s.Spacing)
	for r := 0; r < out.Rows; r++ {
		for c := 0; c < out.Cols; c++ {
			out.Pix[r*out.Cols+c] = s.At(c, s.Cols-1-r)
		}
	}
	return out
}

// SaveSlice saves a rendered slice as a JPEG image
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence renders and saves every slice along the specified axis.
// The slices are split into contiguous ranges, one per core; cores <= 0
// uses every CPU.
func (v *Viewer) SaveSliceSequence(axis models.ViewAxis, outputDir string, w intensity.Window, cores int) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	if cores <= 0 {
		cores = runtime.NumCPU()
	}

	n := v.SliceCount(axis)
	perCore := (n + cores - 1) / cores
	errs := make([]error, cores)

	var wg sync.WaitGroup
	for c := 0; c < cores; c++ {
		start, end := c*perCore, min((c+1)*perCore, n)
		if start >= end {
			break
		}
		wg.Add(1)
		go func(core, start, end int) {
			defer wg.Done()
			r := NewRenderer(0)
			for pos := start; pos < end; pos++ {
				if err := v.saveSlice(r, axis, pos, outputDir, w); err != nil {
					errs[core] = err
					return
				}
			}
		}(c, start, end)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (v *Viewer) saveSlice(r *Renderer, axis models.ViewAxis, pos int, outputDir string, w intensity.Window) error {
	img, mask, err := v.ExtractPair(axis, pos)
	if err != nil {
		return err
	}
	out, err := r.RenderSlice(img, mask, v.vol.Format, RenderOptions{Window: w, ShowMask: mask != nil})
	if err != nil {
		return err
	}
	filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
	return SaveSlice(out, filename)
}
