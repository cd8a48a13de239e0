package dashboard

import (
	"errors"
	"fmt"
	"image"

	"github.com/google/uuid"

	"oaiviewer/internal/models"
	"oaiviewer/pkg/mesh"
	"oaiviewer/pkg/stl"
	"oaiviewer/pkg/visualization"
)

// TrendPage charts the per-visit mean of a field for each bone
type TrendPage struct {
	Image    image.Image                `json:"-"`
	Series   []visualization.TrendSeries `json:"series"`
	Warnings Warnings                   `json:"warnings,omitempty"`
}

// Trend averages the field over all vertices at every time point. Visits
// without the file are left out of the line.
func (d *Dashboard) Trend(subjectID int, field models.Field) (*TrendPage, error) {
	page := &TrendPage{}
	for _, bone := range models.Bones {
		s := visualization.TrendSeries{Name: bone.Title()}
		for _, tp := range models.TimePoints {
			values, err := d.loadField(tp, subjectID, bone, field)
			if err != nil {
				if IsNotFound(err) {
					page.Warnings.add("No %s %s data for subject %d at %s", bone, field, subjectID, tp)
					continue
				}
				return nil, err
			}
			s.Months = append(s.Months, float64(tp.Months()))
			s.Values = append(s.Values, mesh.Mean(values))
		}
		page.Series = append(page.Series, s)
	}

	title := fmt.Sprintf("Subject %d: mean %s", subjectID, field.Label())
	img, err := visualization.RenderTrend(title, field.Label(), page.Series, d.opts.TrendWidth, d.opts.TrendHeight)
	if err != nil {
		return nil, err
	}
	page.Image = img
	return page, nil
}

// ErrNoLabel is returned when a segmentation does not contain a label
var ErrNoLabel = errors.New("label not present")

// MaskSurface extracts the surface of one segmentation label of a visit as
// STL triangles in millimetres
func (d *Dashboard) MaskSurface(session uuid.UUID, tp models.TimePoint, subjectID int, label int) ([]stl.Triangle, error) {
	path, err := d.Locator.MaskPath(tp, subjectID)
	if err != nil {
		return nil, err
	}
	mask, err := d.LoadMask(session, path)
	if err != nil {
		return nil, err
	}

	binary := make([]float64, len(mask.Data))
	found := false
	for i, v := range mask.Data {
		if int(v) == label {
			binary[i] = 1
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %d in %s (labels %v)", ErrNoLabel, label, path, mask.Labels())
	}

	// x runs along the last array dimension
	iso := stl.NewIsoSurface(binary, mask.Dims[2], mask.Dims[1], mask.Dims[0], 0.5)
	iso.SetScale(float32(mask.Spacing[2]), float32(mask.Spacing[1]), float32(mask.Spacing[0]))
	return iso.GenerateTriangles(), nil
}
