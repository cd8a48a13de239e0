package models

import (
	"fmt"
	"math"
)

// Selection is the complete view state of one user. It is passed explicitly
// to every page; the With* methods return modified copies.
type Selection struct {
	DataRoot  string    `json:"data_root"`
	SubjectID int       `json:"subject_id"`
	TimePoint TimePoint `json:"time_point"`
	Bone      Bone      `json:"bone"`
	Field     Field     `json:"field"`
	View      ViewAxis  `json:"view"`

	// SliceIndex is the slice along the view axis, -1 for the middle slice
	SliceIndex int `json:"slice_index"`

	WindowCenter float64 `json:"window_center"`
	WindowWidth  float64 `json:"window_width"`
	ShowMask     bool    `json:"show_mask"`
}

// NewSelection returns the state shown right after a data root is confirmed
func NewSelection(root string, center, width float64) Selection {
	return Selection{
		DataRoot:     root,
		TimePoint:    Baseline,
		Bone:         Femur,
		Field:        Thickness,
		View:         Sagittal,
		SliceIndex:   -1,
		WindowCenter: center,
		WindowWidth:  width,
		ShowMask:     true,
	}
}

// HasSubject reports whether a subject has been chosen
func (s Selection) HasSubject() bool {
	return s.SubjectID > 0
}

// WithRoot switches data roots and resets everything else
func (s Selection) WithRoot(root string) Selection {
	return NewSelection(root, s.WindowCenter, s.WindowWidth)
}

// WithSubject selects a subject; the slice position no longer applies
func (s Selection) WithSubject(id int) Selection {
	s.SubjectID = id
	s.SliceIndex = -1
	return s
}

// WithTimePoint selects a visit
func (s Selection) WithTimePoint(tp TimePoint) Selection {
	s.TimePoint = tp
	return s
}

// WithView changes the slicing plane and recentres the slice
func (s Selection) WithView(v ViewAxis) Selection {
	if v != s.View {
		s.SliceIndex = -1
	}
	s.View = v
	return s
}

// WithWindow sets the display window
func (s Selection) WithWindow(center, width float64) Selection {
	s.WindowCenter = center
	s.WindowWidth = width
	return s
}

// Validate checks the ranges the controls allow
func (s Selection) Validate() error {
	if s.DataRoot == "" {
		return fmt.Errorf("data root not set")
	}
	if s.SubjectID < 0 {
		return fmt.Errorf("invalid subject id %d", s.SubjectID)
	}
	if s.TimePoint != "" {
		if _, err := ParseTimePoint(string(s.TimePoint)); err != nil {
			return err
		}
	}
	if s.Bone != "" {
		if _, err := ParseBone(string(s.Bone)); err != nil {
			return err
		}
	}
	if s.Field != "" {
		if _, err := ParseField(string(s.Field)); err != nil {
			return err
		}
	}
	if s.View < Axial || s.View > Sagittal {
		return fmt.Errorf("invalid view axis %d", s.View)
	}
	if s.SliceIndex < -1 {
		return fmt.Errorf("invalid slice index %d", s.SliceIndex)
	}
	if !inUnit(s.WindowCenter) || !inUnit(s.WindowWidth) {
		return fmt.Errorf("window center/width must lie in [0,1], got %.3f/%.3f", s.WindowCenter, s.WindowWidth)
	}
	return nil
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
