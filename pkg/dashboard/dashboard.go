// Package dashboard runs the page pipelines: locate files for a selection,
// load them, apply the display transforms and render. Missing files become
// warnings and skip only the panel they belong to.
package dashboard

import (
	"errors"
	"fmt"
	"log/slog"

	"oaiviewer/internal/models"
	"oaiviewer/pkg/dataset"
	"oaiviewer/pkg/mesh"
	"oaiviewer/pkg/visualization"
	"oaiviewer/pkg/volume"
)

// Options sizes the rendered output
type Options struct {
	SliceSize    int
	MeshWidth    int
	MeshHeight   int
	ColormapBins int
	TrendWidth   int
	TrendHeight  int
}

// DefaultOptions matches the default display configuration
func DefaultOptions() Options {
	return Options{
		SliceSize:    512,
		MeshWidth:    480,
		MeshHeight:   400,
		ColormapBins: mesh.DefaultBins,
		TrendWidth:   640,
		TrendHeight:  360,
	}
}

// Dashboard binds a data root to the renderers and the volume cache
type Dashboard struct {
	Locator *dataset.Locator
	Cache   *volume.Cache

	slices *visualization.Renderer
	meshes *mesh.Renderer
	opts   Options
}

// New creates a dashboard over loc. The cache may be shared between
// dashboards of different roots.
func New(loc *dataset.Locator, cache *volume.Cache, opts Options) *Dashboard {
	return &Dashboard{
		Locator: loc,
		Cache:   cache,
		slices:  visualization.NewRenderer(opts.SliceSize),
		meshes:  mesh.NewRenderer(opts.MeshWidth, opts.MeshHeight, mesh.NewColormap(opts.ColormapBins)),
		opts:    opts,
	}
}

// Warnings collects the user-visible notes of one page
type Warnings []string

func (w *Warnings) add(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Warn(msg)
	*w = append(*w, msg)
}

// IsNotFound reports whether err means a file or directory is missing
func IsNotFound(err error) bool {
	return errors.Is(err, dataset.ErrNotFound)
}

// SubjectsPage lists the subjects on disk with their clinical grades
type SubjectsPage struct {
	IDs      []int            `json:"ids"`
	Table    *dataset.KLTable `json:"table,omitempty"`
	Warnings Warnings         `json:"warnings,omitempty"`
}

// Subjects scans the time-point directories and filters the KL table to
// the subjects found. A missing table is a warning.
func (d *Dashboard) Subjects() (*SubjectsPage, error) {
	ids, err := d.Locator.ListSubjects()
	if err != nil {
		return nil, err
	}
	page := &SubjectsPage{IDs: ids}

	table, err := dataset.LoadKLTable(d.Locator.KLTablePath())
	switch {
	case err == nil:
		page.Table = table.Filter(ids)
	case IsNotFound(err):
		page.Warnings.add("KL table not found: %s", d.Locator.KLTablePath())
	default:
		return nil, err
	}
	return page, nil
}

// SubjectVisits lists the time points at which a subject has a visit folder
func (d *Dashboard) SubjectVisits(subjectID int) []models.Visit {
	return d.Locator.Visits(subjectID)
}
