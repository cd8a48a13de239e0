package models

import (
	"fmt"
	"strings"
)

// ViewAxis selects the anatomical plane a 2D slice is taken from
type ViewAxis int

const (
	Axial ViewAxis = iota
	Coronal
	Sagittal
)

// ViewAxes lists the axes in the order the viewer offers them
var ViewAxes = []ViewAxis{Sagittal, Coronal, Axial}

func (a ViewAxis) String() string {
	switch a {
	case Axial:
		return "Axial"
	case Coronal:
		return "Coronal"
	case Sagittal:
		return "Sagittal"
	default:
		return fmt.Sprintf("ViewAxis(%d)", int(a))
	}
}

// ParseViewAxis accepts the axis names case-insensitively
func ParseViewAxis(s string) (ViewAxis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "axial":
		return Axial, nil
	case "coronal":
		return Coronal, nil
	case "sagittal":
		return Sagittal, nil
	default:
		return 0, fmt.Errorf("invalid view axis: %q (must be Axial, Coronal or Sagittal)", s)
	}
}

// SourceFormat records how a volume was stored on disk. The two formats use
// different default axis conventions, so slices are oriented per format.
type SourceFormat int

const (
	// Series is a multi-file source with one DICOM file per slice
	Series SourceFormat = iota + 1

	// Packed is a single volumetric file (NIfTI)
	Packed
)

func (f SourceFormat) String() string {
	switch f {
	case Series:
		return "series"
	case Packed:
		return "packed"
	default:
		return fmt.Sprintf("SourceFormat(%d)", int(f))
	}
}
