package dashboard

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"oaiviewer/internal/models"
	"oaiviewer/pkg/mesh"
)

// BonePanel is the rendering of one bone. Err is set when the bone could
// not be drawn; the other bones of the page are unaffected.
type BonePanel struct {
	Bone  models.Bone `json:"bone"`
	Image image.Image `json:"-"`
	Lo    float64     `json:"lo"`
	Hi    float64     `json:"hi"`
	Err   string      `json:"error,omitempty"`

	cause error
}

// Cause is the error that kept the panel from rendering, nil on success
func (p BonePanel) Cause() error {
	return p.cause
}

// MeshPage shows both bones at one time point
type MeshPage struct {
	TimePoint models.TimePoint `json:"time_point"`
	Field     models.Field     `json:"field"`
	Panels    []BonePanel      `json:"panels"`
	Warnings  Warnings         `json:"warnings,omitempty"`
}

// LoadBoneMesh loads the surface of a bone at a visit and binds the field.
// Errors are ErrNotFound when a file is missing, *volume.DecodeError when a
// file cannot be parsed and *mesh.CardinalityError on a length mismatch.
func (d *Dashboard) LoadBoneMesh(tp models.TimePoint, subjectID int, bone models.Bone, field models.Field) (*mesh.Mesh, error) {
	meshPath, err := d.Locator.MeshPath(tp, subjectID, bone)
	if err != nil {
		return nil, err
	}
	values, err := d.loadField(tp, subjectID, bone, field)
	if err != nil {
		return nil, err
	}
	m, err := mesh.Load(meshPath)
	if err != nil {
		return nil, err
	}
	if err := m.Bind(string(field), values); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *Dashboard) loadField(tp models.TimePoint, subjectID int, bone models.Bone, field models.Field) ([]float64, error) {
	path, err := d.Locator.ScalarPath(tp, subjectID, bone, field)
	if err != nil {
		return nil, err
	}
	return mesh.LoadScalars(path)
}

// FieldRange is the colour range of a bone's field over every time point,
// so panels of different visits share one scale
func (d *Dashboard) FieldRange(subjectID int, bone models.Bone, field models.Field, warnings *Warnings) (lo, hi float64, err error) {
	var fields [][]float64
	for _, tp := range models.TimePoints {
		values, err := d.loadField(tp, subjectID, bone, field)
		if err != nil {
			if IsNotFound(err) {
				warnings.add("No %s %s data for subject %d at %s", bone, field, subjectID, tp)
				continue
			}
			return 0, 0, err
		}
		fields = append(fields, values)
	}
	return mesh.GlobalRange(fields...)
}

// MeshView renders femur and tibia at the selected time point, coloured by
// the selected field on a range shared across time points
func (d *Dashboard) MeshView(sel models.Selection) (*MeshPage, error) {
	if !sel.HasSubject() {
		return nil, fmt.Errorf("no subject selected")
	}
	page := &MeshPage{TimePoint: sel.TimePoint, Field: sel.Field}

	for _, bone := range models.Bones {
		panel := BonePanel{Bone: bone}
		img, lo, hi, err := d.renderBone(sel, bone, &page.Warnings)
		if err != nil {
			panel.Err, panel.cause = err.Error(), err
		} else {
			panel.Image, panel.Lo, panel.Hi = img, lo, hi
		}
		page.Panels = append(page.Panels, panel)
	}
	return page, nil
}

func (d *Dashboard) renderBone(sel models.Selection, bone models.Bone, warnings *Warnings) (image.Image, float64, float64, error) {
	lo, hi, err := d.FieldRange(sel.SubjectID, bone, sel.Field, warnings)
	if err != nil {
		return nil, 0, 0, err
	}
	m, err := d.LoadBoneMesh(sel.TimePoint, sel.SubjectID, bone, sel.Field)
	if err != nil {
		if IsNotFound(err) {
			warnings.add("No %s mesh data for subject %d at %s", bone, sel.SubjectID, sel.TimePoint)
		}
		return nil, 0, 0, err
	}
	img, err := d.meshes.Render(m, mesh.Scene{
		Field:   string(sel.Field),
		Lo:      lo,
		Hi:      hi,
		Caption: fmt.Sprintf("%s - %s", sel.TimePoint, sel.Field.Label()),
	})
	if err != nil {
		return nil, 0, 0, err
	}
	return img, lo, hi, nil
}

// MeshFile is a surface read from a user-supplied file
type MeshFile struct {
	Image    image.Image `json:"-"`
	Field    string      `json:"field,omitempty"`
	Vertices int         `json:"vertices"`
	Faces    int         `json:"faces"`
	Lo       float64     `json:"lo"`
	Hi       float64     `json:"hi"`
}

// RenderMeshFile draws an .stl or .obj surface coloured by a scalar file
// on the field's own range. An empty scalarPath draws the bare surface.
// A field whose length is not the vertex count fails with
// *mesh.CardinalityError.
func (d *Dashboard) RenderMeshFile(meshPath, scalarPath string) (*MeshFile, error) {
	m, err := mesh.Load(meshPath)
	if err != nil {
		return nil, err
	}
	page := &MeshFile{Vertices: len(m.Vertices), Faces: len(m.Faces)}
	scene := mesh.Scene{Caption: filepath.Base(meshPath)}

	if scalarPath != "" {
		values, err := mesh.LoadScalars(scalarPath)
		if err != nil {
			return nil, err
		}
		page.Field = strings.TrimSuffix(filepath.Base(scalarPath), filepath.Ext(scalarPath))
		if err := m.Bind(page.Field, values); err != nil {
			return nil, err
		}
		if page.Lo, page.Hi, err = mesh.GlobalRange(values); err != nil {
			return nil, err
		}
		scene.Field, scene.Lo, scene.Hi = page.Field, page.Lo, page.Hi
		scene.Caption = fmt.Sprintf("%s - %s", scene.Caption, page.Field)
	}

	if page.Image, err = d.meshes.Render(m, scene); err != nil {
		return nil, err
	}
	return page, nil
}

// Comparison holds one bone's meshes at every time point; missing visits
// are nil
type Comparison struct {
	SubjectID int
	Bone      models.Bone
	Field     models.Field
	Meshes    []*mesh.Mesh
	Lo, Hi    float64
	Warnings  Warnings
}

// Longitudinal loads a bone at all time points. Missing visits are
// warnings; a file that fails to decode or bind aborts the bone.
func (d *Dashboard) Longitudinal(subjectID int, bone models.Bone, field models.Field) (*Comparison, error) {
	c := &Comparison{
		SubjectID: subjectID,
		Bone:      bone,
		Field:     field,
		Meshes:    make([]*mesh.Mesh, len(models.TimePoints)),
	}

	var fields [][]float64
	for i, tp := range models.TimePoints {
		m, err := d.LoadBoneMesh(tp, subjectID, bone, field)
		if err != nil {
			if IsNotFound(err) {
				c.Warnings.add("No %s data found for subject %d at time point %s", bone, subjectID, tp)
				continue
			}
			return nil, fmt.Errorf("%s at %s: %w", bone, tp, err)
		}
		c.Meshes[i] = m
		values, _ := m.Field(string(field))
		fields = append(fields, values)
	}

	lo, hi, err := mesh.GlobalRange(fields...)
	if err != nil {
		return nil, fmt.Errorf("%s %s for subject %d: %w", bone, field, subjectID, err)
	}
	c.Lo, c.Hi = lo, hi
	return c, nil
}

// CompareGrid draws a comparison as a 3x2 grid in time order
func (d *Dashboard) CompareGrid(c *Comparison) (image.Image, error) {
	scenes := make([]mesh.Scene, len(c.Meshes))
	for i, tp := range models.TimePoints {
		scenes[i] = mesh.Scene{
			Field:   string(c.Field),
			Lo:      c.Lo,
			Hi:      c.Hi,
			Caption: fmt.Sprintf("%s - %s", tp, c.Field.Label()),
		}
	}
	return d.meshes.RenderGrid(c.Meshes, scenes, 2)
}

// ComparePage renders the longitudinal grid of both bones
func (d *Dashboard) ComparePage(subjectID int, field models.Field) (*MeshPage, error) {
	page := &MeshPage{Field: field}
	for _, bone := range models.Bones {
		panel := BonePanel{Bone: bone}
		c, err := d.Longitudinal(subjectID, bone, field)
		if err == nil {
			page.Warnings = append(page.Warnings, c.Warnings...)
			panel.Lo, panel.Hi = c.Lo, c.Hi
			panel.Image, err = d.CompareGrid(c)
		}
		if err != nil {
			panel.Err, panel.cause = err.Error(), err
			if errors.Is(err, mesh.ErrNoData) {
				page.Warnings.add("No %s data for subject %d", bone, subjectID)
			}
		}
		page.Panels = append(page.Panels, panel)
	}
	return page, nil
}

// Probe finds the vertex of the selected bone and visit nearest to point
// and reports every field available there
func (d *Dashboard) Probe(sel models.Selection, point r3.Vec) (mesh.Hit, error) {
	m, err := d.LoadBoneMesh(sel.TimePoint, sel.SubjectID, sel.Bone, sel.Field)
	if err != nil {
		return mesh.Hit{}, err
	}
	// the other field is optional
	for _, f := range models.Fields {
		if f == sel.Field {
			continue
		}
		values, err := d.loadField(sel.TimePoint, sel.SubjectID, sel.Bone, f)
		if err != nil {
			continue
		}
		if err := m.Bind(string(f), values); err != nil {
			return mesh.Hit{}, err
		}
	}

	p, err := mesh.NewProber(m)
	if err != nil {
		return mesh.Hit{}, err
	}
	return p.Nearest(point), nil
}
