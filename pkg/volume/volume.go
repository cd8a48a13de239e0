// Package volume decodes MRI volumes and segmentation masks into flat
// float64 arrays with voxel spacing.
package volume

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"oaiviewer/internal/models"
)

// Volume is a 3D array stored in row-major (C) order: the last index varies
// fastest. Spacing is the voxel size in mm along each array dimension, in
// the order the decoder reports it.
type Volume struct {
	Dims    [3]int
	Spacing [3]float64
	Data    []float64
	Format  models.SourceFormat

	// Source is the file or directory the volume was decoded from
	Source string
}

// New allocates a zeroed volume
func New(d0, d1, d2 int, spacing [3]float64, format models.SourceFormat) *Volume {
	return &Volume{
		Dims:    [3]int{d0, d1, d2},
		Spacing: spacing,
		Data:    make([]float64, d0*d1*d2),
		Format:  format,
	}
}

// Index returns the offset of voxel (i, j, k) in Data
func (v *Volume) Index(i, j, k int) int {
	return (i*v.Dims[1]+j)*v.Dims[2] + k
}

// At returns voxel (i, j, k)
func (v *Volume) At(i, j, k int) float64 {
	return v.Data[v.Index(i, j, k)]
}

// Set stores voxel (i, j, k)
func (v *Volume) Set(i, j, k int, val float64) {
	v.Data[v.Index(i, j, k)] = val
}

// Len is the voxel count
func (v *Volume) Len() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// SameShape reports whether two volumes have identical dimensions
func (v *Volume) SameShape(o *Volume) bool {
	return v.Dims == o.Dims
}

// Clone returns a deep copy
func (v *Volume) Clone() *Volume {
	c := *v
	c.Data = append([]float64(nil), v.Data...)
	return &c
}

// Labels returns the distinct positive integer labels in a mask, ascending
func (v *Volume) Labels() []int {
	seen := make(map[int]bool)
	for _, x := range v.Data {
		if l := int(x); l > 0 {
			seen[l] = true
		}
	}
	labels := make([]int, 0, len(seen))
	for l := 1; len(labels) < len(seen); l++ {
		if seen[l] {
			labels = append(labels, l)
		}
	}
	return labels
}

// DecodeError reports a file the codecs could not parse
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ShapeError reports a mask whose dimensions differ from its volume
type ShapeError struct {
	Volume [3]int
	Mask   [3]int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("mask shape %v does not match volume shape %v", e.Mask, e.Volume)
}

// CheckPair returns a ShapeError when mask is non-nil and shaped differently
func CheckPair(vol, mask *Volume) error {
	if mask == nil || vol.SameShape(mask) {
		return nil
	}
	return &ShapeError{Volume: vol.Dims, Mask: mask.Dims}
}

// Load decodes a directory as a DICOM series and a file as NIfTI
func Load(path string) (*Volume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var v *Volume
	if info.IsDir() {
		v, err = LoadDICOMSeries(path)
	} else {
		v, err = LoadNIfTI(path)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("Volume loaded",
		"source", path,
		"format", v.Format.String(),
		"dims", v.Dims,
		"spacing", v.Spacing,
		"size", humanize.Bytes(uint64(len(v.Data)*8)),
	)
	return v, nil
}
