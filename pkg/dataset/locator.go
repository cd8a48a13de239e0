// Package dataset resolves subjects, visits and per-visit files from the
// on-disk naming convention of the processed OAI study.
//
// The filesystem is the database. Every call re-scans the directories it
// needs and reflects the filesystem at call time; two calls may disagree if
// files change in between.
package dataset

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"oaiviewer/internal/models"
)

// ErrNotFound is returned when no directory or file matches the naming convention
var ErrNotFound = errors.New("not found")

// VisitSuffix ends every visit directory name: <id>_<date>_SAG_3D_DESS_LEFT
const VisitSuffix = "_SAG_3D_DESS_LEFT"

// Locator maps selections to concrete paths under a data root
type Locator struct {
	Root string
}

// NewLocator checks that the root exists and is a directory
func NewLocator(root string) (*Locator, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("invalid data root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("invalid data root %s: not a directory", root)
	}
	return &Locator{Root: root}, nil
}

// ProcessedDir is <root>/DATA/processed_PP/<tp>
func (l *Locator) ProcessedDir(tp models.TimePoint) string {
	return filepath.Join(l.Root, "DATA", "processed_PP", string(tp))
}

// KLTablePath is the clinical grade table
func (l *Locator) KLTablePath() string {
	return filepath.Join(l.Root, "DATA", "processed_PP", "OAI_KL.csv")
}

// ListSubjects returns the sorted union of subject IDs over all time points.
// Entries whose name prefix is not an integer are ignored.
func (l *Locator) ListSubjects() ([]int, error) {
	seen := make(map[int]struct{})
	scanned := 0
	for _, tp := range models.TimePoints {
		ids, err := l.SubjectsAt(tp)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				slog.Warn("Time point directory missing", "time_point", tp, "dir", l.ProcessedDir(tp))
				continue
			}
			return nil, err
		}
		scanned++
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	if scanned == 0 {
		return nil, fmt.Errorf("no time point directories under %s: %w", filepath.Join(l.Root, "DATA", "processed_PP"), ErrNotFound)
	}

	all := make([]int, 0, len(seen))
	for id := range seen {
		all = append(all, id)
	}
	sort.Ints(all)
	return all, nil
}

// SubjectsAt returns the sorted subject IDs present at one time point
func (l *Locator) SubjectsAt(tp models.TimePoint) ([]int, error) {
	dir := l.ProcessedDir(tp)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	seen := make(map[int]struct{})
	for _, e := range entries {
		id, ok := subjectPrefix(e.Name())
		if !ok {
			continue
		}
		seen[id] = struct{}{}
	}

	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func subjectPrefix(name string) (int, bool) {
	prefix, _, _ := strings.Cut(name, "_")
	id, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, false
	}
	return id, true
}

// FindVisitDir returns the visit directory of a subject at a time point.
// When several directories match, the lexicographically first one wins.
func (l *Locator) FindVisitDir(tp models.TimePoint, subjectID int) (string, error) {
	dir := l.ProcessedDir(tp)
	name, err := firstMatch(dir, subjectID, VisitSuffix, true)
	if err != nil {
		return "", fmt.Errorf("no visit directory for subject %d at %s: %w", subjectID, tp, err)
	}
	return filepath.Join(dir, name), nil
}

// Visits returns the visits of a subject that exist on disk, in time order
func (l *Locator) Visits(subjectID int) []models.Visit {
	var visits []models.Visit
	for _, tp := range models.TimePoints {
		dir, err := l.FindVisitDir(tp, subjectID)
		if err != nil {
			continue
		}
		visits = append(visits, models.Visit{SubjectID: subjectID, TimePoint: tp, Dir: dir})
	}
	return visits
}

// VolumePath locates the DESS image of a visit:
// <root>/IMAGE/<tp>/DESS_<tp>/<id>_*_SAG_3D_DESS_LEFT_0000.nii.gz
func (l *Locator) VolumePath(tp models.TimePoint, subjectID int) (string, error) {
	dir := filepath.Join(l.Root, "IMAGE", string(tp), "DESS_"+string(tp))
	name, err := firstMatch(dir, subjectID, VisitSuffix+"_0000.nii.gz", false)
	if err != nil {
		return "", fmt.Errorf("no image for subject %d at %s: %w", subjectID, tp, err)
	}
	return filepath.Join(dir, name), nil
}

// MaskPath locates the predicted segmentation of a visit:
// <root>/DATA/pred/pred_<tp>_PP/<id>_*_SAG_3D_DESS_LEFT.nii.gz
func (l *Locator) MaskPath(tp models.TimePoint, subjectID int) (string, error) {
	dir := filepath.Join(l.Root, "DATA", "pred", "pred_"+strings.ToLower(string(tp))+"_PP")
	name, err := firstMatch(dir, subjectID, VisitSuffix+".nii.gz", false)
	if err != nil {
		return "", fmt.Errorf("no mask for subject %d at %s: %w", subjectID, tp, err)
	}
	return filepath.Join(dir, name), nil
}

// TemplateMeshPath is the shared reference surface of a bone
func (l *Locator) TemplateMeshPath(bone models.Bone) string {
	return filepath.Join(l.Root, "DATA", string(bone)+"_ref_final.stl")
}

// MeshPath returns the surface mesh for a bone at a visit. Per-visit
// reference meshes are preferred over the shared template.
func (l *Locator) MeshPath(tp models.TimePoint, subjectID int, bone models.Bone) (string, error) {
	visit, err := l.FindVisitDir(tp, subjectID)
	if err != nil {
		return "", err
	}

	candidates := []string{
		ArtifactPath(visit, bone, models.ArtifactRef, ".stl"),
		ArtifactPath(visit, bone, models.ArtifactRefRegistered, ".stl"),
		l.TemplateMeshPath(bone),
	}
	for _, c := range candidates {
		if fileExists(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("no %s mesh for subject %d at %s: %w", bone, subjectID, tp, ErrNotFound)
}

// ScalarPath returns the per-vertex field file for a bone at a visit
func (l *Locator) ScalarPath(tp models.TimePoint, subjectID int, bone models.Bone, field models.Field) (string, error) {
	visit, err := l.FindVisitDir(tp, subjectID)
	if err != nil {
		return "", err
	}
	path := ArtifactPath(visit, bone, field.Artifact(), ".txt")
	if !fileExists(path) {
		return "", fmt.Errorf("no %s %s file for subject %d at %s: %w", bone, field, subjectID, tp, ErrNotFound)
	}
	return path, nil
}

// ArtifactPath builds <visitDir>/<visitName>_<bone>_<artifact><ext>
func ArtifactPath(visitDir string, bone models.Bone, artifact models.Artifact, ext string) string {
	name := filepath.Base(visitDir)
	return filepath.Join(visitDir, fmt.Sprintf("%s_%s_%s%s", name, bone, artifact, ext))
}

// firstMatch finds entries named <id>_*<suffix> and returns the
// lexicographically smallest
func firstMatch(dir string, subjectID int, suffix string, wantDir bool) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	prefix := strconv.Itoa(subjectID) + "_"
	var matches []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		if len(name) < len(prefix)+len(suffix) {
			continue
		}
		if wantDir != e.IsDir() {
			continue
		}
		matches = append(matches, name)
	}
	if len(matches) == 0 {
		return "", ErrNotFound
	}
	sort.Strings(matches)
	if len(matches) > 1 {
		slog.Debug("Several entries match, using the first", "dir", dir, "subject", subjectID, "matches", matches)
	}
	return matches[0], nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
