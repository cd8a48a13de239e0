package dataset

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"oaiviewer/internal/models"
)

// createStudyTree lays out a minimal data root under a temp directory
func createStudyTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	mkdir := func(parts ...string) string {
		dir := filepath.Join(append([]string{root}, parts...)...)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
		return dir
	}
	touch := func(path string) {
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}

	for _, tp := range models.TimePoints {
		mkdir("DATA", "processed_PP", string(tp))
	}
	v1 := mkdir("DATA", "processed_PP", "00m", "9003126_20040913_SAG_3D_DESS_LEFT")
	mkdir("DATA", "processed_PP", "00m", "9003716_20050110_SAG_3D_DESS_LEFT")
	mkdir("DATA", "processed_PP", "00m", "README_notes")
	touch(filepath.Join(root, "DATA", "processed_PP", "00m", "9003126_stray_file.txt"))

	touch(filepath.Join(v1, "9003126_20040913_SAG_3D_DESS_LEFT_femur_ref.stl"))
	touch(filepath.Join(v1, "9003126_20040913_SAG_3D_DESS_LEFT_femur_cartThickness.txt"))
	touch(filepath.Join(root, "DATA", "tibia_ref_final.stl"))

	img := mkdir("IMAGE", "00m", "DESS_00m")
	touch(filepath.Join(img, "9003126_20040913_SAG_3D_DESS_LEFT_0000.nii.gz"))
	pred := mkdir("DATA", "pred", "pred_00m_PP")
	touch(filepath.Join(pred, "9003126_20040913_SAG_3D_DESS_LEFT.nii.gz"))

	return root
}

func TestListSubjects(t *testing.T) {
	root := createStudyTree(t)
	loc, err := NewLocator(root)
	if err != nil {
		t.Fatalf("Failed to create locator: %v", err)
	}

	ids, err := loc.ListSubjects()
	if err != nil {
		t.Fatalf("Failed to list subjects: %v", err)
	}
	if want := []int{9003126, 9003716}; !reflect.DeepEqual(ids, want) {
		t.Errorf("Expected %v, got %v", want, ids)
	}
}

func TestListSubjectsUnionIsSuperset(t *testing.T) {
	root := createStudyTree(t)
	if err := os.MkdirAll(filepath.Join(root, "DATA", "processed_PP", "24m", "9011111_20080101_SAG_3D_DESS_LEFT"), 0755); err != nil {
		t.Fatal(err)
	}
	loc := &Locator{Root: root}

	all, err := loc.ListSubjects()
	if err != nil {
		t.Fatalf("Failed to list subjects: %v", err)
	}
	set := make(map[int]bool)
	for _, id := range all {
		set[id] = true
	}
	for _, tp := range models.TimePoints {
		ids, err := loc.SubjectsAt(tp)
		if err != nil {
			t.Fatalf("Failed to list %s: %v", tp, err)
		}
		for _, id := range ids {
			if !set[id] {
				t.Errorf("Subject %d at %s missing from union", id, tp)
			}
		}
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 subjects, got %v", all)
	}
}

func TestListSubjectsSkipsMissingTimePoints(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "DATA", "processed_PP", "12m", "9000001_x_SAG_3D_DESS_LEFT"), 0755); err != nil {
		t.Fatal(err)
	}
	ids, err := (&Locator{Root: root}).ListSubjects()
	if err != nil {
		t.Fatalf("Expected missing time points to be skipped, got %v", err)
	}
	if !reflect.DeepEqual(ids, []int{9000001}) {
		t.Errorf("Expected [9000001], got %v", ids)
	}

	if _, err := (&Locator{Root: t.TempDir()}).ListSubjects(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for empty root, got %v", err)
	}
}

func TestFindVisitDir(t *testing.T) {
	root := createStudyTree(t)
	loc := &Locator{Root: root}

	dir, err := loc.FindVisitDir(models.Baseline, 9003126)
	if err != nil {
		t.Fatalf("Failed to find visit: %v", err)
	}
	if filepath.Base(dir) != "9003126_20040913_SAG_3D_DESS_LEFT" {
		t.Errorf("Unexpected visit dir %s", dir)
	}

	if _, err := loc.FindVisitDir(models.Month12, 9003126); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound at 12m, got %v", err)
	}

	// a subject ID that is a prefix of another must not match it
	if _, err := loc.FindVisitDir(models.Baseline, 900312); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for prefix id, got %v", err)
	}
}

func TestFindVisitDirIsDeterministic(t *testing.T) {
	root := createStudyTree(t)
	extra := filepath.Join(root, "DATA", "processed_PP", "00m", "9003126_20040101_SAG_3D_DESS_LEFT")
	if err := os.MkdirAll(extra, 0755); err != nil {
		t.Fatal(err)
	}
	loc := &Locator{Root: root}

	for i := 0; i < 5; i++ {
		dir, err := loc.FindVisitDir(models.Baseline, 9003126)
		if err != nil {
			t.Fatalf("Failed to find visit: %v", err)
		}
		if dir != extra {
			t.Errorf("Expected lexicographically first %s, got %s", extra, dir)
		}
	}
}

func TestArtifactPaths(t *testing.T) {
	root := createStudyTree(t)
	loc := &Locator{Root: root}

	mesh, err := loc.MeshPath(models.Baseline, 9003126, models.Femur)
	if err != nil {
		t.Fatalf("Failed to find femur mesh: %v", err)
	}
	if filepath.Base(mesh) != "9003126_20040913_SAG_3D_DESS_LEFT_femur_ref.stl" {
		t.Errorf("Unexpected femur mesh %s", mesh)
	}

	// tibia has no per-visit mesh and falls back to the template
	mesh, err = loc.MeshPath(models.Baseline, 9003126, models.Tibia)
	if err != nil {
		t.Fatalf("Failed to find tibia mesh: %v", err)
	}
	if mesh != loc.TemplateMeshPath(models.Tibia) {
		t.Errorf("Expected template mesh, got %s", mesh)
	}

	if _, err := loc.ScalarPath(models.Baseline, 9003126, models.Femur, models.Thickness); err != nil {
		t.Errorf("Expected thickness file, got %v", err)
	}
	if _, err := loc.ScalarPath(models.Baseline, 9003126, models.Femur, models.T2); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for T2, got %v", err)
	}

	if _, err := loc.VolumePath(models.Baseline, 9003126); err != nil {
		t.Errorf("Expected volume, got %v", err)
	}
	if _, err := loc.MaskPath(models.Baseline, 9003126); err != nil {
		t.Errorf("Expected mask, got %v", err)
	}
	if _, err := loc.VolumePath(models.Month48, 9003126); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for 48m volume, got %v", err)
	}

	visits := loc.Visits(9003126)
	if len(visits) != 1 || visits[0].TimePoint != models.Baseline {
		t.Errorf("Expected one baseline visit, got %+v", visits)
	}
}

func TestNewLocatorRejectsMissingRoot(t *testing.T) {
	if _, err := NewLocator(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Expected error for missing root")
	}
}

func TestLoadKLTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "OAI_KL.csv")
	csvData := "ID,SIDE,KL_00m,KL_12m\n" +
		"9003126,LEFT,2,3\n" +
		"9003126,LEFT,2,3\n" +
		"9003716,LEFT,0,\n" +
		"9999999,LEFT,4,4\n"
	if err := os.WriteFile(path, []byte(csvData), 0644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadKLTable(path)
	if err != nil {
		t.Fatalf("Failed to load KL table: %v", err)
	}
	if !reflect.DeepEqual(table.Columns, []string{"KL_00m", "KL_12m"}) {
		t.Errorf("Unexpected KL columns %v", table.Columns)
	}
	if len(table.Rows) != 4 {
		t.Fatalf("Expected 4 rows, got %d", len(table.Rows))
	}

	filtered := table.Filter([]int{9003126, 9003716})
	if !reflect.DeepEqual(filtered.IDs(), []int{9003126, 9003716}) {
		t.Errorf("Unexpected filtered IDs %v", filtered.IDs())
	}
	if len(filtered.Rows) != 2 {
		t.Errorf("Expected duplicates dropped, got %d rows", len(filtered.Rows))
	}

	row, ok := filtered.Row(9003716)
	if !ok {
		t.Fatal("Expected row for 9003716")
	}
	if row.Grades[0] != 0 || !math.IsNaN(row.Grades[1]) {
		t.Errorf("Expected grades [0 NaN], got %v", row.Grades)
	}

	if _, err := LoadKLTable(filepath.Join(t.TempDir(), "none.csv")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
