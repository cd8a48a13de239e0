package volume

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"oaiviewer/internal/models"
)

// dicomSlice is one decoded file of a series
type dicomSlice struct {
	name     string
	instance int
	position []float64
	spacing  []float64
	gap      float64
	rows     int
	cols     int
	pixels   []float64
}

// LoadDICOMSeries decodes every DICOM file in dir into one volume. Files that
// do not parse as DICOM are skipped. Slices are ordered by InstanceNumber,
// then by patient z position, then by file name.
//
// The array is (slice, row, column) and Spacing is (column, row, slice), the
// same convention as the ITK series reader the viewer was designed against.
func LoadDICOMSeries(dir string) (*Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var slices []*dicomSlice
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		s, err := readDICOMSlice(path)
		if err != nil {
			slog.Debug("Skipping non-DICOM file", "file", path, "error", err)
			continue
		}
		slices = append(slices, s)
	}
	if len(slices) == 0 {
		return nil, &DecodeError{Path: dir, Err: errors.New("no readable DICOM files")}
	}

	sort.SliceStable(slices, func(a, b int) bool {
		sa, sb := slices[a], slices[b]
		if sa.instance != sb.instance {
			return sa.instance < sb.instance
		}
		if len(sa.position) == 3 && len(sb.position) == 3 && sa.position[2] != sb.position[2] {
			return sa.position[2] < sb.position[2]
		}
		return sa.name < sb.name
	})

	rows, cols := slices[0].rows, slices[0].cols
	for _, s := range slices[1:] {
		if s.rows != rows || s.cols != cols {
			return nil, &DecodeError{Path: dir, Err: fmt.Errorf("slice %s is %dx%d, expected %dx%d", s.name, s.rows, s.cols, rows, cols)}
		}
	}

	spacing := [3]float64{1, 1, sliceSpacing(slices)}
	if ps := slices[0].spacing; len(ps) == 2 {
		// PixelSpacing is (row spacing, column spacing)
		spacing[0], spacing[1] = ps[1], ps[0]
	}

	v := New(len(slices), rows, cols, spacing, models.Series)
	v.Source = dir
	for i, s := range slices {
		copy(v.Data[i*rows*cols:(i+1)*rows*cols], s.pixels)
	}
	return v, nil
}

func readDICOMSlice(path string) (*dicomSlice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, err
	}

	pixelElem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("no pixel data: %w", err)
	}
	info, ok := pixelElem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, errors.New("pixel data has no frames")
	}
	img, err := info.Frames[0].GetImage()
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	s := &dicomSlice{
		name:     filepath.Base(path),
		instance: math.MaxInt32,
		position: floatsOf(ds, tag.ImagePositionPatient),
		spacing:  floatsOf(ds, tag.PixelSpacing),
	}
	if v := floatsOf(ds, tag.SpacingBetweenSlices); len(v) > 0 && v[0] > 0 {
		s.gap = v[0]
	} else if v := floatsOf(ds, tag.SliceThickness); len(v) > 0 && v[0] > 0 {
		s.gap = v[0]
	}
	if n := floatsOf(ds, tag.InstanceNumber); len(n) > 0 {
		s.instance = int(n[0])
	}

	slope, inter := 1.0, 0.0
	if v := floatsOf(ds, tag.RescaleSlope); len(v) > 0 && v[0] != 0 {
		slope = v[0]
	}
	if v := floatsOf(ds, tag.RescaleIntercept); len(v) > 0 {
		inter = v[0]
	}
	signed := false
	if v := floatsOf(ds, tag.PixelRepresentation); len(v) > 0 && v[0] == 1 {
		signed = true
	}

	b := img.Bounds()
	s.rows, s.cols = b.Dy(), b.Dx()
	s.pixels = make([]float64, s.rows*s.cols)
	for y := 0; y < s.rows; y++ {
		for x := 0; x < s.cols; x++ {
			raw := gray16At(img, b.Min.X+x, b.Min.Y+y)
			val := float64(raw)
			if signed && raw >= 0x8000 {
				val -= 0x10000
			}
			s.pixels[y*s.cols+x] = val*slope + inter
		}
	}
	return s, nil
}

func gray16At(img image.Image, x, y int) uint16 {
	switch g := img.(type) {
	case *image.Gray16:
		return g.Gray16At(x, y).Y
	case *image.Gray:
		return uint16(g.GrayAt(x, y).Y)
	default:
		return color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y
	}
}

// sliceSpacing prefers the distance between the first two slice positions,
// then SpacingBetweenSlices or SliceThickness
func sliceSpacing(slices []*dicomSlice) float64 {
	if len(slices) > 1 && len(slices[0].position) == 3 && len(slices[1].position) == 3 {
		var d2 float64
		for i := 0; i < 3; i++ {
			d := slices[1].position[i] - slices[0].position[i]
			d2 += d * d
		}
		if d := math.Sqrt(d2); d > 0 {
			return d
		}
	}
	if slices[0].gap > 0 {
		return slices[0].gap
	}
	return 1
}

// floatsOf reads a numeric or decimal-string element as floats
func floatsOf(ds dicom.Dataset, t tag.Tag) []float64 {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return nil
	}
	switch vals := elem.Value.GetValue().(type) {
	case []string:
		var out []float64
		for _, s := range vals {
			for _, part := range strings.Split(s, `\`) {
				f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
				if err == nil {
					out = append(out, f)
				}
			}
		}
		return out
	case []int:
		out := make([]float64, len(vals))
		for i, x := range vals {
			out[i] = float64(x)
		}
		return out
	case []float64:
		return vals
	}
	return nil
}
