package models

import "testing"

func TestSelectionCopies(t *testing.T) {
	base := NewSelection("/data", 0.5, 1.0)
	next := base.WithSubject(9003126).WithTimePoint(Month24).WithView(Axial)

	if base.SubjectID != 0 || base.TimePoint != Baseline || base.View != Sagittal {
		t.Errorf("Expected original selection to be unchanged, got %+v", base)
	}
	if next.SubjectID != 9003126 || next.TimePoint != Month24 || next.View != Axial {
		t.Errorf("Unexpected updated selection %+v", next)
	}

	next.SliceIndex = 12
	if moved := next.WithView(Axial); moved.SliceIndex != 12 {
		t.Errorf("Expected slice index kept for same view, got %d", moved.SliceIndex)
	}
	if moved := next.WithView(Coronal); moved.SliceIndex != -1 {
		t.Errorf("Expected slice index reset on view change, got %d", moved.SliceIndex)
	}
}

func TestSelectionWithRootResets(t *testing.T) {
	sel := NewSelection("/a", 0.4, 0.6).WithSubject(42).WithTimePoint(Month72)
	sel = sel.WithRoot("/b")

	if sel.DataRoot != "/b" {
		t.Errorf("Expected root /b, got %s", sel.DataRoot)
	}
	if sel.HasSubject() || sel.TimePoint != Baseline {
		t.Errorf("Expected subject and time point reset, got %+v", sel)
	}
	if sel.WindowCenter != 0.4 || sel.WindowWidth != 0.6 {
		t.Errorf("Expected window kept, got %.2f/%.2f", sel.WindowCenter, sel.WindowWidth)
	}
}

func TestSelectionValidate(t *testing.T) {
	good := NewSelection("/data", 0.5, 0.5)
	if err := good.Validate(); err != nil {
		t.Fatalf("Expected valid selection, got %v", err)
	}

	cases := map[string]Selection{
		"no root":    NewSelection("", 0.5, 0.5),
		"window":     good.WithWindow(1.5, 0.5),
		"time point": good.WithTimePoint("06m"),
		"slice":      func() Selection { s := good; s.SliceIndex = -3; return s }(),
		"bone":       func() Selection { s := good; s.Bone = "patella"; return s }(),
		"view":       func() Selection { s := good; s.View = ViewAxis(9); return s }(),
	}
	for name, sel := range cases {
		if err := sel.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestParsers(t *testing.T) {
	if tp, err := ParseTimePoint("48M"); err != nil || tp != Month48 {
		t.Errorf("Expected 48m, got %q (%v)", tp, err)
	}
	if Month72.Months() != 72 {
		t.Errorf("Expected 72 months, got %d", Month72.Months())
	}
	if v, err := ParseViewAxis("coronal"); err != nil || v != Coronal {
		t.Errorf("Expected Coronal, got %v (%v)", v, err)
	}
	if _, err := ParseViewAxis("oblique"); err == nil {
		t.Error("Expected error for unknown axis")
	}
	if f, _ := ParseField("T2"); f.Artifact() != ArtifactT2 {
		t.Errorf("Expected t2_map artifact, got %s", f.Artifact())
	}
	if Tibia.Title() != "Tibia" {
		t.Errorf("Expected Tibia, got %s", Tibia.Title())
	}
}
