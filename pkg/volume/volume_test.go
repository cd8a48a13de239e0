package volume

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"oaiviewer/internal/models"
)

// encodeNIfTI writes a little-endian NIfTI-1 float32 image; voxel (i,j,k)
// holds fn(i,j,k)
func encodeNIfTI(t *testing.T, dims [3]int, pixdim [3]float32, fn func(i, j, k int) float32) []byte {
	t.Helper()
	hdr := make([]byte, niftiHeaderSize)
	le := binary.LittleEndian
	le.PutUint32(hdr[0:4], niftiHeaderSize)
	le.PutUint16(hdr[40:42], 3)
	for d := 0; d < 3; d++ {
		le.PutUint16(hdr[42+2*d:44+2*d], uint16(dims[d]))
	}
	le.PutUint16(hdr[70:72], niftiFloat32)
	le.PutUint16(hdr[72:74], 32)
	le.PutUint32(hdr[76:80], math.Float32bits(1))
	for d := 0; d < 3; d++ {
		le.PutUint32(hdr[80+4*d:84+4*d], math.Float32bits(pixdim[d]))
	}
	le.PutUint32(hdr[108:112], math.Float32bits(352))
	copy(hdr[344:348], "n+1\x00")

	var buf bytes.Buffer
	buf.Write(hdr)
	buf.Write(make([]byte, 4)) // empty extension block
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				binary.Write(&buf, le, fn(i, j, k))
			}
		}
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testPattern(i, j, k int) float32 {
	return float32(i*100 + j*10 + k)
}

func TestLoadNIfTI(t *testing.T) {
	dims := [3]int{4, 3, 2}
	raw := encodeNIfTI(t, dims, [3]float32{0.36, 0.36, 0.7}, testPattern)

	dir := t.TempDir()
	plain := filepath.Join(dir, "a.nii")
	packed := filepath.Join(dir, "a.nii.gz")
	if err := os.WriteFile(plain, raw, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(packed, gzipBytes(t, raw), 0644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{plain, packed} {
		v, err := Load(path)
		if err != nil {
			t.Fatalf("Failed to load %s: %v", path, err)
		}
		if v.Dims != dims {
			t.Errorf("Expected dims %v, got %v", dims, v.Dims)
		}
		if v.Format != models.Packed {
			t.Errorf("Expected packed format, got %v", v.Format)
		}
		if math.Abs(v.Spacing[2]-0.7) > 1e-6 {
			t.Errorf("Expected z spacing 0.7, got %f", v.Spacing[2])
		}
		for _, ijk := range [][3]int{{0, 0, 0}, {3, 2, 1}, {1, 2, 0}} {
			want := float64(testPattern(ijk[0], ijk[1], ijk[2]))
			if got := v.At(ijk[0], ijk[1], ijk[2]); got != want {
				t.Errorf("Voxel %v: expected %f, got %f", ijk, want, got)
			}
		}
	}
}

func TestLoadNIfTIRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.nii.gz")
	if err := os.WriteFile(path, gzipBytes(t, []byte(strings.Repeat("x", 400))), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadNIfTI(path)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("Expected DecodeError, got %v", err)
	}
	if de.Path != path {
		t.Errorf("Expected path %s in error, got %s", path, de.Path)
	}

	// truncated voxel data
	raw := encodeNIfTI(t, [3]int{4, 4, 4}, [3]float32{1, 1, 1}, testPattern)
	if _, err := DecodeNIfTI(bytes.NewReader(raw[:len(raw)-10])); err == nil {
		t.Error("Expected error for truncated data")
	}
}

// headerOnly returns a NIfTI header declaring dims with no voxel data behind it
func headerOnly(t *testing.T, dims [3]int) []byte {
	t.Helper()
	raw := encodeNIfTI(t, [3]int{1, 1, 1}, [3]float32{1, 1, 1}, testPattern)[:352]
	for d := 0; d < 3; d++ {
		binary.LittleEndian.PutUint16(raw[42+2*d:44+2*d], uint16(dims[d]))
	}
	return raw
}

func TestLoadNIfTIRejectsOversizedHeader(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		dims [3]int
		gz   bool
	}{
		{"over-cap.nii", [3]int{2048, 2048, 2048}, false},
		{"over-cap.nii.gz", [3]int{2048, 2048, 2048}, true},
		{"missing-data.nii", [3]int{512, 512, 512}, false},
		{"missing-data.nii.gz", [3]int{512, 512, 512}, true},
	}
	for _, c := range cases {
		raw := headerOnly(t, c.dims)
		if c.gz {
			raw = gzipBytes(t, raw)
		}
		path := filepath.Join(dir, c.name)
		if err := os.WriteFile(path, raw, 0644); err != nil {
			t.Fatal(err)
		}

		v, err := LoadNIfTI(path)
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("%s: expected DecodeError, got %v", c.name, err)
			continue
		}
		if v != nil {
			t.Errorf("%s: expected no volume, got dims %v", c.name, v.Dims)
		}
	}
}

func TestLoadDICOMSeriesWithoutDICOM(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadDICOMSeries(dir)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Errorf("Expected DecodeError, got %v", err)
	}
}

func TestCheckPair(t *testing.T) {
	vol := New(4, 3, 2, [3]float64{1, 1, 1}, models.Packed)
	if err := CheckPair(vol, nil); err != nil {
		t.Errorf("Expected nil mask to pass, got %v", err)
	}
	if err := CheckPair(vol, New(4, 3, 2, vol.Spacing, models.Packed)); err != nil {
		t.Errorf("Expected same shape to pass, got %v", err)
	}
	err := CheckPair(vol, New(4, 3, 3, vol.Spacing, models.Packed))
	var se *ShapeError
	if !errors.As(err, &se) {
		t.Fatalf("Expected ShapeError, got %v", err)
	}
}

func TestLabels(t *testing.T) {
	m := New(1, 2, 3, [3]float64{1, 1, 1}, models.Packed)
	copy(m.Data, []float64{0, 4, 2, 2, 0, 1})
	labels := m.Labels()
	if len(labels) != 3 || labels[0] != 1 || labels[1] != 2 || labels[2] != 4 {
		t.Errorf("Expected [1 2 4], got %v", labels)
	}
}

func TestCache(t *testing.T) {
	c := NewCache(2)
	s1, s2 := uuid.New(), uuid.New()
	v := New(1, 1, 1, [3]float64{1, 1, 1}, models.Packed)

	loads := 0
	load := func() (*Volume, error) {
		loads++
		return v, nil
	}
	for i := 0; i < 3; i++ {
		if _, err := c.GetOrLoad(s1, "a.nii.gz", load); err != nil {
			t.Fatal(err)
		}
	}
	if loads != 1 {
		t.Errorf("Expected 1 decode, got %d", loads)
	}

	c.Put(s2, "a.nii.gz", v)
	if _, ok := c.Get(s2, "a.nii.gz"); !ok {
		t.Error("Expected entry for second session")
	}

	c.Invalidate(s1)
	if _, ok := c.Get(s1, "a.nii.gz"); ok {
		t.Error("Expected session 1 entry dropped")
	}
	if _, ok := c.Get(s2, "a.nii.gz"); !ok {
		t.Error("Expected session 2 entry kept")
	}

	failing := func() (*Volume, error) { return nil, errors.New("boom") }
	if _, err := c.GetOrLoad(s1, "b", failing); err == nil {
		t.Error("Expected load error")
	}
	if c.Len() != 1 {
		t.Errorf("Expected failed load not cached, got %d entries", c.Len())
	}

	c.Put(s1, "x", v)
	c.Put(s1, "y", v)
	if c.Len() != 2 {
		t.Errorf("Expected eviction down to 2 entries, got %d", c.Len())
	}
}

func TestWithStagedFilesCleansUp(t *testing.T) {
	var staged string
	err := WithStagedFiles([]Upload{{Name: "../../etc/a.dcm", Data: strings.NewReader("abc")}}, func(dir string, paths []string) error {
		staged = dir
		if filepath.Dir(paths[0]) != dir {
			t.Errorf("Expected file inside staging dir, got %s", paths[0])
		}
		if _, err := os.Stat(paths[0]); err != nil {
			t.Errorf("Expected staged file to exist: %v", err)
		}
		return errors.New("decode failed")
	})
	if err == nil {
		t.Error("Expected callback error to propagate")
	}
	if _, statErr := os.Stat(staged); !os.IsNotExist(statErr) {
		t.Errorf("Expected staging dir removed, stat gave %v", statErr)
	}
}

func TestLoadUploads(t *testing.T) {
	raw := encodeNIfTI(t, [3]int{2, 2, 2}, [3]float32{1, 1, 1}, testPattern)
	v, err := LoadUploads([]Upload{{Name: "scan.nii.gz", Data: bytes.NewReader(gzipBytes(t, raw))}})
	if err != nil {
		t.Fatalf("Failed to load upload: %v", err)
	}
	if v.Format != models.Packed || v.Source != "upload:scan.nii.gz" {
		t.Errorf("Unexpected upload volume %v %s", v.Format, v.Source)
	}

	if _, err := LoadUploadedMask(Upload{Name: "mask.dcm", Data: bytes.NewReader(nil)}); err == nil {
		t.Error("Expected error for non-NIfTI mask")
	}
}
