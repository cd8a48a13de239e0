// Package studytest builds a small OAI study tree on disk for tests
package studytest

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"oaiviewer/internal/models"
	"oaiviewer/pkg/stl"
)

// SubjectID is the subject with visits in the study
const SubjectID = 9003126

// Visit directory names
const (
	Visit00m = "9003126_20040913_SAG_3D_DESS_LEFT"
	Visit12m = "9003126_20051021_SAG_3D_DESS_LEFT"
	Visit24m = "9003126_20061110_SAG_3D_DESS_LEFT"
)

// VolumeDims is the shape of the DESS image and its mask
var VolumeDims = [3]int{6, 5, 4}

// VolumeSpacing is the voxel size of the DESS image
var VolumeSpacing = [3]float32{0.5, 0.25, 2}

// Tetrahedron is the surface used for every mesh: 4 vertices, 4 faces
func Tetrahedron() []stl.Triangle {
	a := [3]float32{0, 0, 0}
	b := [3]float32{10, 0, 0}
	c := [3]float32{0, 10, 0}
	d := [3]float32{0, 0, 10}
	return []stl.Triangle{
		{Vertex1: a, Vertex2: c, Vertex3: b},
		{Vertex1: a, Vertex2: b, Vertex3: d},
		{Vertex1: a, Vertex2: d, Vertex3: c},
		{Vertex1: b, Vertex2: c, Vertex3: d},
	}
}

// New lays out the study under a temp directory and returns its root.
//
//	00m: image, mask, femur ref mesh, femur thickness and T2, tibia thickness
//	12m: femur thickness, tibia thickness with 5 values (one too many)
//	24m: femur thickness
//	48m, 72m: empty time point directories
//
// Meshes without a per-visit file fall back to DATA/<bone>_ref_final.stl.
func New(t testing.TB) string {
	t.Helper()
	root := t.TempDir()

	mkdir := func(parts ...string) string {
		dir := filepath.Join(append([]string{root}, parts...)...)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
		return dir
	}
	write := func(path string, data []byte) {
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}
	scalars := func(dir string, bone models.Bone, artifact models.Artifact, values ...string) {
		name := filepath.Base(dir) + "_" + string(bone) + "_" + string(artifact) + ".txt"
		write(filepath.Join(dir, name), []byte(strings.Join(values, "\n")+"\n"))
	}
	saveMesh := func(path string) {
		if err := stl.SaveToSTL(path, Tetrahedron()); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}

	for _, tp := range models.TimePoints {
		mkdir("DATA", "processed_PP", string(tp))
	}
	v00 := mkdir("DATA", "processed_PP", "00m", Visit00m)
	v12 := mkdir("DATA", "processed_PP", "12m", Visit12m)
	v24 := mkdir("DATA", "processed_PP", "24m", Visit24m)

	saveMesh(filepath.Join(v00, Visit00m+"_femur_ref.stl"))
	saveMesh(filepath.Join(root, "DATA", "femur_ref_final.stl"))
	saveMesh(filepath.Join(root, "DATA", "tibia_ref_final.stl"))

	scalars(v00, models.Femur, models.ArtifactThickness, "1", "2", "3", "4")
	scalars(v00, models.Femur, models.ArtifactT2, "30", "40", "50", "60")
	scalars(v00, models.Tibia, models.ArtifactThickness, "2", "2", "2", "2")
	scalars(v12, models.Femur, models.ArtifactThickness, "1.5", "2.5", "3.5", "nan")
	scalars(v12, models.Tibia, models.ArtifactThickness, "1", "1", "1", "1", "1")
	scalars(v24, models.Femur, models.ArtifactThickness, "0.5", "1", "1", "1")

	write(filepath.Join(root, "DATA", "processed_PP", "OAI_KL.csv"),
		[]byte("ID,KL_00m,KL_12m,Side\n9003126,2,3,L\n9003126,2,3,L\n9999999,1,,R\n"))

	img := mkdir("IMAGE", "00m", "DESS_00m")
	write(filepath.Join(img, Visit00m+"_0000.nii.gz"), gzipBytes(t, EncodeNIfTI(VolumeDims, VolumeSpacing, func(i, j, k int) float32 {
		return float32(i*100 + j*10 + k)
	})))

	pred := mkdir("DATA", "pred", "pred_00m_PP")
	write(filepath.Join(pred, Visit00m+".nii.gz"), gzipBytes(t, EncodeNIfTI(VolumeDims, VolumeSpacing, func(i, j, k int) float32 {
		// a 2x2x2 cartilage block
		if i >= 2 && i < 4 && j >= 1 && j < 3 && k >= 1 && k < 3 {
			return 2
		}
		return 0
	})))

	return root
}

// EncodeNIfTI returns a little-endian NIfTI-1 float32 image; voxel (i,j,k)
// holds fn(i,j,k)
func EncodeNIfTI(dims [3]int, pixdim [3]float32, fn func(i, j, k int) float32) []byte {
	hdr := make([]byte, 348)
	le := binary.LittleEndian
	le.PutUint32(hdr[0:4], 348)
	le.PutUint16(hdr[40:42], 3)
	for d := 0; d < 3; d++ {
		le.PutUint16(hdr[42+2*d:44+2*d], uint16(dims[d]))
	}
	le.PutUint16(hdr[70:72], 16) // float32
	le.PutUint16(hdr[72:74], 32)
	le.PutUint32(hdr[76:80], math.Float32bits(1))
	for d := 0; d < 3; d++ {
		le.PutUint32(hdr[80+4*d:84+4*d], math.Float32bits(pixdim[d]))
	}
	le.PutUint32(hdr[108:112], math.Float32bits(352))
	copy(hdr[344:348], "n+1\x00")

	var buf bytes.Buffer
	buf.Write(hdr)
	buf.Write(make([]byte, 4))
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				binary.Write(&buf, le, fn(i, j, k))
			}
		}
	}
	return buf.Bytes()
}

func gzipBytes(t testing.TB, data []byte) []byte {
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
