package models

import (
	"fmt"
	"strings"
)

// TimePoint is a longitudinal visit label such as "00m"
type TimePoint string

const (
	Baseline TimePoint = "00m"
	Month12  TimePoint = "12m"
	Month24  TimePoint = "24m"
	Month48  TimePoint = "48m"
	Month72  TimePoint = "72m"
)

// TimePoints is the fixed, ordered set of visits in the study
var TimePoints = []TimePoint{Baseline, Month12, Month24, Month48, Month72}

// Months returns the number of months since baseline
func (t TimePoint) Months() int {
	var m int
	fmt.Sscanf(string(t), "%dm", &m)
	return m
}

// ParseTimePoint validates a time point label
func ParseTimePoint(s string) (TimePoint, error) {
	tp := TimePoint(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range TimePoints {
		if tp == known {
			return tp, nil
		}
	}
	return "", fmt.Errorf("invalid time point: %q", s)
}

// Bone identifies which bone surface a mesh describes
type Bone string

const (
	Femur Bone = "femur"
	Tibia Bone = "tibia"
)

// Bones lists the bones with meshes in the processed data
var Bones = []Bone{Femur, Tibia}

// ParseBone validates a bone name
func ParseBone(s string) (Bone, error) {
	switch b := Bone(strings.ToLower(strings.TrimSpace(s))); b {
	case Femur, Tibia:
		return b, nil
	default:
		return "", fmt.Errorf("invalid bone: %q (must be femur or tibia)", s)
	}
}

// Title returns the bone name capitalised for captions
func (b Bone) Title() string {
	if b == "" {
		return ""
	}
	return strings.ToUpper(string(b[:1])) + string(b[1:])
}

// Artifact is the suffix of a per-visit file after the bone name
type Artifact string

const (
	ArtifactRef           Artifact = "ref"
	ArtifactRefRegistered Artifact = "ref_registered"
	ArtifactBone          Artifact = "bone"
	ArtifactThickness     Artifact = "cartThickness"
	ArtifactT2            Artifact = "t2_map"
)

// Field is a named per-vertex scalar field
type Field string

const (
	Thickness Field = "thickness"
	T2        Field = "t2"
)

// Fields lists the scalar fields a mesh can carry
var Fields = []Field{Thickness, T2}

// ParseField validates a field name
func ParseField(s string) (Field, error) {
	switch f := Field(strings.ToLower(strings.TrimSpace(s))); f {
	case Thickness, T2:
		return f, nil
	default:
		return "", fmt.Errorf("invalid scalar field: %q (must be thickness or t2)", s)
	}
}

// Artifact returns the file artifact that stores the field
func (f Field) Artifact() Artifact {
	if f == T2 {
		return ArtifactT2
	}
	return ArtifactThickness
}

// Label is the caption used for the field in rendered panels
func (f Field) Label() string {
	if f == T2 {
		return "T2"
	}
	return "Thickness"
}

// Subject is one study participant
type Subject struct {
	ID     int
	Visits []Visit
}

// Visit is the processed data of one subject at one time point
type Visit struct {
	SubjectID int
	TimePoint TimePoint

	// Dir is the visit directory, e.g. .../00m/9003126_20040913_SAG_3D_DESS_LEFT
	Dir string
}
