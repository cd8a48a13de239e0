package visualization

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"oaiviewer/internal/models"
	"oaiviewer/pkg/intensity"
	"oaiviewer/pkg/volume"
)

// createTestVolume fills a volume so each voxel encodes its own index
func createTestVolume(d0, d1, d2 int, format models.SourceFormat) *volume.Volume {
	v := volume.New(d0, d1, d2, [3]float64{0.5, 0.25, 2.0}, format)
	for i := 0; i < d0; i++ {
		for j := 0; j < d1; j++ {
			for k := 0; k < d2; k++ {
				v.Set(i, j, k, float64(i*100+j*10+k))
			}
		}
	}
	return v
}

// TestExtractSliceAxes verifies the axis to array-dimension mapping
func TestExtractSliceAxes(t *testing.T) {
	vol := createTestVolume(4, 5, 6, models.Packed)
	viewer := NewViewer(vol, nil)

	cases := []struct {
		axis       models.ViewAxis
		pos        int
		rows, cols int
		spacing    [2]float64
		at         func(r, c int) float64
	}{
		{models.Axial, 2, 4, 5, [2]float64{0.5, 0.25}, func(r, c int) float64 { return float64(r*100 + c*10 + 2) }},
		{models.Coronal, 3, 4, 6, [2]float64{0.5, 2.0}, func(r, c int) float64 { return float64(r*100 + 30 + c) }},
		{models.Sagittal, 1, 5, 6, [2]float64{0.25, 2.0}, func(r, c int) float64 { return float64(100 + r*10 + c) }},
	}

	for _, tc := range cases {
		s, err := viewer.ExtractSlice(tc.axis, tc.pos)
		if err != nil {
			t.Fatalf("%s: failed to extract slice: %v", tc.axis, err)
		}
		if s.Rows != tc.rows || s.Cols != tc.cols {
			t.Errorf("%s: expected %dx%d, got %dx%d", tc.axis, tc.rows, tc.cols, s.Rows, s.Cols)
		}
		if s.Spacing != tc.spacing {
			t.Errorf("%s: expected spacing %v, got %v", tc.axis, tc.spacing, s.Spacing)
		}
		for r := 0; r < s.Rows; r++ {
			for c := 0; c < s.Cols; c++ {
				if got, want := s.At(r, c), tc.at(r, c); got != want {
					t.Fatalf("%s: pixel (%d,%d) expected %f, got %f", tc.axis, r, c, want, got)
				}
			}
		}
	}
}

func TestExtractSliceBounds(t *testing.T) {
	viewer := NewViewer(createTestVolume(4, 5, 6, models.Packed), nil)

	s, err := viewer.ExtractSlice(models.Axial, -1)
	if err != nil {
		t.Fatalf("Failed to extract middle slice: %v", err)
	}
	if s.At(0, 0) != 3 {
		t.Errorf("Expected middle axial slice 3, got value %f", s.At(0, 0))
	}

	if _, err := viewer.ExtractSlice(models.Sagittal, 4); err == nil {
		t.Error("Expected error for out of bounds position")
	}
	if _, err := viewer.ExtractSlice(models.Coronal, -2); err == nil {
		t.Error("Expected error for negative position")
	}
	if _, err := viewer.ExtractSlice(models.ViewAxis(7), 0); err == nil {
		t.Error("Expected error for invalid axis")
	}
}

func TestExtractSliceIsPure(t *testing.T) {
	viewer := NewViewer(createTestVolume(3, 4, 5, models.Series), nil)
	for _, axis := range models.ViewAxes {
		a, err := viewer.ExtractSlice(axis, 1)
		if err != nil {
			t.Fatal(err)
		}
		b, err := viewer.ExtractSlice(axis, 1)
		if err != nil {
			t.Fatal(err)
		}
		for i := range a.Pix {
			if a.Pix[i] != b.Pix[i] {
				t.Fatalf("%s: repeated extraction differs at %d", axis, i)
			}
		}
	}
}

func TestExtractPair(t *testing.T) {
	vol := createTestVolume(4, 5, 6, models.Packed)
	mask := volume.New(4, 5, 6, vol.Spacing, models.Packed)
	mask.Set(1, 2, 3, 2)

	img, m, err := NewViewer(vol, mask).ExtractPair(models.Sagittal, 1)
	if err != nil {
		t.Fatalf("Failed to extract pair: %v", err)
	}
	if img.Rows != m.Rows || img.Cols != m.Cols {
		t.Errorf("Expected matching shapes, got %dx%d and %dx%d", img.Rows, img.Cols, m.Rows, m.Cols)
	}
	if m.At(2, 3) != 2 {
		t.Errorf("Expected label 2 at (2,3), got %f", m.At(2, 3))
	}

	bad := volume.New(4, 5, 7, vol.Spacing, models.Packed)
	_, _, err = NewViewer(vol, bad).ExtractPair(models.Axial, 0)
	var se *volume.ShapeError
	if !errors.As(err, &se) {
		t.Errorf("Expected ShapeError, got %v", err)
	}
}

func TestOrient(t *testing.T) {
	// 2x3:
	// 1 2 3
	// 4 5 6
	s := &Slice{Rows: 2, Cols: 3, Pix: []float64{1, 2, 3, 4, 5, 6}, Spacing: [2]float64{1, 2}}

	flipped, err := Orient(s, models.Series)
	if err != nil {
		t.Fatal(err)
	}
	wantFlip := []float64{6, 5, 4, 3, 2, 1}
	for i := range wantFlip {
		if flipped.Pix[i] != wantFlip[i] {
			t.Fatalf("Flip: expected %v, got %v", wantFlip, flipped.Pix)
		}
	}

	rotated, err := Orient(s, models.Packed)
	if err != nil {
		t.Fatal(err)
	}
	// numpy.rot90 of the matrix above:
	// 3 6
	// 2 5
	// 1 4
	if rotated.Rows != 3 || rotated.Cols != 2 {
		t.Fatalf("Rotate: expected 3x2, got %dx%d", rotated.Rows, rotated.Cols)
	}
	wantRot := []float64{3, 6, 2, 5, 1, 4}
	for i := range wantRot {
		if rotated.Pix[i] != wantRot[i] {
			t.Fatalf("Rotate: expected %v, got %v", wantRot, rotated.Pix)
		}
	}
	if rotated.Spacing != s.Spacing {
		t.Errorf("Expected spacing carried over, got %v", rotated.Spacing)
	}

	if _, err := Orient(s, models.SourceFormat(0)); err == nil {
		t.Error("Expected error for unknown source format")
	}
}

func TestRenderSlice(t *testing.T) {
	s := &Slice{Rows: 2, Cols: 2, Pix: []float64{0, 1, 0.5, 0.25}, Spacing: [2]float64{1, 2}}
	mask := &Slice{Rows: 2, Cols: 2, Pix: []float64{0, 1, 2, 9}, Spacing: s.Spacing}

	r := NewRenderer(0)
	img, err := r.RenderSlice(s, mask, models.Series, RenderOptions{
		Window:   intensity.Window{Center: 0.5, Width: 1},
		ShowMask: true,
	})
	if err != nil {
		t.Fatalf("Failed to render slice: %v", err)
	}
	// aspect 2 doubles the height
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 4 {
		t.Errorf("Expected 2x4 output, got %dx%d", b.Dx(), b.Dy())
	}

	_, err = r.RenderSlice(s, &Slice{Rows: 1, Cols: 2, Pix: []float64{0, 0}}, models.Series, RenderOptions{})
	if err == nil {
		t.Error("Expected error for mismatched mask")
	}

	sized, err := NewRenderer(64).RenderSlice(s, nil, models.Packed, RenderOptions{Window: intensity.Window{Center: 0.5, Width: 1}, Caption: "Sagittal 1"})
	if err != nil {
		t.Fatalf("Failed to render sized slice: %v", err)
	}
	if b := sized.Bounds(); b.Dx() != 32 || b.Dy() != 64 {
		t.Errorf("Expected 32x64 output, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestOverlayLabels(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 2, 1))
	overlayLabels(dst, &Slice{Rows: 1, Cols: 2, Pix: []float64{0, 1}})
	if c := dst.RGBAAt(1, 0); c.R < 120 || c.G != 0 {
		t.Errorf("Expected red overlay for label 1, got %+v", c)
	}
	if c := dst.RGBAAt(0, 0); c.R != 0 {
		t.Errorf("Expected background untouched, got %+v", c)
	}
}

func TestSaveSliceSequence(t *testing.T) {
	vol := createTestVolume(3, 4, 5, models.Packed)
	intensity.Normalize(vol.Data)
	viewer := NewViewer(vol, nil)

	outDir := filepath.Join(t.TempDir(), "axial")
	if err := viewer.SaveSliceSequence(models.Axial, outDir, intensity.Window{Center: 0.5, Width: 1}, 3); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}
	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Errorf("Expected 5 slices, got %d", len(entries))
	}
}

func TestRenderTrend(t *testing.T) {
	img, err := RenderTrend("Mean thickness", "mm", []TrendSeries{
		{Name: "Femur", Months: []float64{0, 12, 24}, Values: []float64{2.1, 2.0, 1.9}},
		{Name: "Tibia", Months: []float64{0}, Values: []float64{1.5}},
	}, 640, 360)
	if err != nil {
		t.Fatalf("Failed to render trend: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 640 || b.Dy() != 360 {
		t.Errorf("Expected 640x360 chart, got %dx%d", b.Dx(), b.Dy())
	}

	if _, err := RenderTrend("empty", "mm", []TrendSeries{{Name: "x"}}, 100, 100); !errors.Is(err, ErrNoTrendData) {
		t.Errorf("Expected ErrNoTrendData, got %v", err)
	}
}
