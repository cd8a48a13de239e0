package dashboard

import (
	"fmt"
	"image"

	"github.com/google/uuid"

	"oaiviewer/internal/models"
	"oaiviewer/pkg/intensity"
	"oaiviewer/pkg/visualization"
	"oaiviewer/pkg/volume"
)

// SlicePage is one rendered 2D view of a volume
type SlicePage struct {
	Image      image.Image `json:"-"`
	VolumePath string      `json:"volume_path"`
	MaskPath   string      `json:"mask_path,omitempty"`
	View       string      `json:"view"`
	SliceIndex int         `json:"slice_index"`
	SliceCount int         `json:"slice_count"`
	Dims       [3]int      `json:"dims"`
	Spacing    [3]float64  `json:"spacing"`
	Warnings   Warnings    `json:"warnings,omitempty"`
}

// LoadNormalized decodes a volume through the session cache and rescales
// its intensities to [0,1] before caching
func (d *Dashboard) LoadNormalized(session uuid.UUID, path string) (*volume.Volume, error) {
	return d.Cache.GetOrLoad(session, path, func() (*volume.Volume, error) {
		v, err := volume.Load(path)
		if err != nil {
			return nil, err
		}
		intensity.Normalize(v.Data)
		return v, nil
	})
}

// LoadMask decodes a label volume through the session cache
func (d *Dashboard) LoadMask(session uuid.UUID, path string) (*volume.Volume, error) {
	return d.Cache.GetOrLoad(session, "mask:"+path, func() (*volume.Volume, error) {
		return volume.Load(path)
	})
}

// VisitSlice renders the selected slice of a visit's DESS image with its
// predicted segmentation. A missing image fails the page; a missing mask
// is a warning and the image is shown alone.
func (d *Dashboard) VisitSlice(session uuid.UUID, sel models.Selection) (*SlicePage, error) {
	if !sel.HasSubject() {
		return nil, fmt.Errorf("no subject selected")
	}

	var warnings Warnings
	volPath, err := d.Locator.VolumePath(sel.TimePoint, sel.SubjectID)
	if err != nil {
		return nil, err
	}
	vol, err := d.LoadNormalized(session, volPath)
	if err != nil {
		return nil, err
	}

	var mask *volume.Volume
	maskPath := ""
	if sel.ShowMask {
		maskPath, err = d.Locator.MaskPath(sel.TimePoint, sel.SubjectID)
		switch {
		case err == nil:
			if mask, err = d.LoadMask(session, maskPath); err != nil {
				return nil, err
			}
		case IsNotFound(err):
			warnings.add("No mask for subject %d at %s", sel.SubjectID, sel.TimePoint)
			maskPath = ""
		default:
			return nil, err
		}
	}

	page, err := d.RenderVolume(vol, mask, sel)
	if err != nil {
		return nil, err
	}
	page.VolumePath = volPath
	page.MaskPath = maskPath
	page.Warnings = append(warnings, page.Warnings...)
	return page, nil
}

// RenderVolume slices and renders an already loaded, normalised volume
// using the view, slice and window of sel. Used for located and uploaded
// volumes alike.
func (d *Dashboard) RenderVolume(vol, mask *volume.Volume, sel models.Selection) (*SlicePage, error) {
	viewer := visualization.NewViewer(vol, mask)
	pos, err := viewer.ResolveIndex(sel.View, sel.SliceIndex)
	if err != nil {
		return nil, err
	}
	img, maskSlice, err := viewer.ExtractPair(sel.View, pos)
	if err != nil {
		return nil, err
	}

	count := viewer.SliceCount(sel.View)
	out, err := d.slices.RenderSlice(img, maskSlice, vol.Format, visualization.RenderOptions{
		Window:   intensity.Window{Center: sel.WindowCenter, Width: sel.WindowWidth},
		ShowMask: sel.ShowMask && maskSlice != nil,
		Caption:  fmt.Sprintf("%s %d/%d", sel.View, pos, count-1),
	})
	if err != nil {
		return nil, err
	}

	return &SlicePage{
		Image:      out,
		VolumePath: vol.Source,
		View:       sel.View.String(),
		SliceIndex: pos,
		SliceCount: count,
		Dims:       vol.Dims,
		Spacing:    vol.Spacing,
	}, nil
}
