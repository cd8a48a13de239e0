package server

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"gonum.org/v1/gonum/spatial/r3"

	"oaiviewer/internal/models"
	"oaiviewer/pkg/dashboard"
	"oaiviewer/pkg/intensity"
	"oaiviewer/pkg/mesh"
	"oaiviewer/pkg/stl"
	"oaiviewer/pkg/visualization"
	"oaiviewer/pkg/volume"
)

// WarningsHeader carries the page warnings of image responses, joined by "; "
const WarningsHeader = "X-Oaiviewer-Warnings"

// headers of uploaded mesh renderings
const (
	VerticesHeader = "X-Oaiviewer-Vertices"
	RangeHeader    = "X-Oaiviewer-Range"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

var errBadRequest = errors.New("invalid request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusOf maps the error taxonomy of the pipelines to HTTP statuses
func statusOf(err error) int {
	var decodeErr *volume.DecodeError
	var shapeErr *volume.ShapeError
	var cardErr *mesh.CardinalityError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, visualization.ErrSliceRange):
		return http.StatusBadRequest
	case dashboard.IsNotFound(err), errors.Is(err, dashboard.ErrNoLabel),
		errors.Is(err, mesh.ErrNoData), errors.Is(err, visualization.ErrNoTrendData):
		return http.StatusNotFound
	case errors.As(err, &cardErr):
		return http.StatusConflict
	case errors.As(err, &decodeErr), errors.As(err, &shapeErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:   strings.ToLower(http.StatusText(status)),
		Details: err.Error(),
	})
}

func sendPNG(c *gin.Context, img image.Image, warnings []string) {
	var buf bytes.Buffer
	if err := visualization.EncodePNG(&buf, img); err != nil {
		fail(c, err)
		return
	}
	if len(warnings) > 0 {
		c.Header(WarningsHeader, strings.Join(warnings, "; "))
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// nullable turns NaN into null for JSON
func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Health reports liveness and cache occupancy
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"service":        "oaiviewer",
		"timestamp":      time.Now().UTC(),
		"sessions":       s.sessions.Len(),
		"cached_volumes": s.cache.Len(),
		"uploads":        s.uploaded.Len(),
	})
}

// selection returns the session's selection and the dashboard of its root
func (s *Server) selection(c *gin.Context) (models.Selection, *dashboard.Dashboard, error) {
	sel := s.sessions.Get(sessionID(c))
	if sel.DataRoot == "" {
		return sel, nil, badRequest("no data root selected")
	}
	d, err := s.dashboard(sel.DataRoot)
	if err != nil {
		return sel, nil, badRequest("%v", err)
	}
	return sel, d, nil
}

// subjectSelection is selection for pages that need a subject
func (s *Server) subjectSelection(c *gin.Context) (models.Selection, *dashboard.Dashboard, error) {
	sel, d, err := s.selection(c)
	if err != nil {
		return sel, nil, err
	}
	if !sel.HasSubject() {
		return sel, nil, badRequest("no subject selected")
	}
	return sel, d, nil
}

type rootRequest struct {
	Root string `json:"root" binding:"required"`
}

// SetRoot confirms a data root. The selection resets and the session's
// cached volumes are dropped.
func (s *Server) SetRoot(c *gin.Context) {
	var req rootRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, badRequest("%v", err))
		return
	}
	if _, err := s.dashboard(req.Root); err != nil {
		fail(c, badRequest("%v", err))
		return
	}

	id := sessionID(c)
	sel := s.sessions.Get(id).WithRoot(req.Root)
	s.cache.Invalidate(id)
	s.sessions.Put(id, sel)
	c.JSON(http.StatusOK, sel)
}

// GetSession returns the current selection
func (s *Server) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessions.Get(sessionID(c)))
}

// selectionPatch holds the controls a client may change; absent fields keep
// their value
type selectionPatch struct {
	SubjectID    *int     `json:"subject_id"`
	TimePoint    *string  `json:"time_point"`
	Bone         *string  `json:"bone"`
	Field        *string  `json:"field"`
	View         *string  `json:"view"`
	SliceIndex   *int     `json:"slice_index"`
	WindowCenter *float64 `json:"window_center"`
	WindowWidth  *float64 `json:"window_width"`
	ShowMask     *bool    `json:"show_mask"`
}

func (p selectionPatch) apply(sel models.Selection) (models.Selection, error) {
	if p.SubjectID != nil && *p.SubjectID != sel.SubjectID {
		sel = sel.WithSubject(*p.SubjectID)
	}
	if p.TimePoint != nil {
		tp, err := models.ParseTimePoint(*p.TimePoint)
		if err != nil {
			return sel, err
		}
		sel = sel.WithTimePoint(tp)
	}
	if p.Bone != nil {
		b, err := models.ParseBone(*p.Bone)
		if err != nil {
			return sel, err
		}
		sel.Bone = b
	}
	if p.Field != nil {
		f, err := models.ParseField(*p.Field)
		if err != nil {
			return sel, err
		}
		sel.Field = f
	}
	if p.View != nil {
		v, err := models.ParseViewAxis(*p.View)
		if err != nil {
			return sel, err
		}
		sel = sel.WithView(v)
	}
	if p.SliceIndex != nil {
		sel.SliceIndex = *p.SliceIndex
	}
	if p.WindowCenter != nil || p.WindowWidth != nil {
		center, width := sel.WindowCenter, sel.WindowWidth
		if p.WindowCenter != nil {
			center = *p.WindowCenter
		}
		if p.WindowWidth != nil {
			width = *p.WindowWidth
		}
		sel = sel.WithWindow(center, width)
	}
	if p.ShowMask != nil {
		sel.ShowMask = *p.ShowMask
	}
	return sel, sel.Validate()
}

// UpdateSession applies a partial update to the selection
func (s *Server) UpdateSession(c *gin.Context) {
	var patch selectionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, badRequest("%v", err))
		return
	}

	id := sessionID(c)
	sel, err := patch.apply(s.sessions.Get(id))
	if err != nil {
		fail(c, badRequest("%v", err))
		return
	}
	s.sessions.Put(id, sel)
	c.JSON(http.StatusOK, sel)
}

type klRow struct {
	ID     int        `json:"id"`
	Grades []*float64 `json:"grades"`
}

// Subjects lists the subjects of the root, their KL grades and the visits
// of the selected subject
func (s *Server) Subjects(c *gin.Context) {
	sel, d, err := s.selection(c)
	if err != nil {
		fail(c, err)
		return
	}
	page, err := d.Subjects()
	if err != nil {
		fail(c, err)
		return
	}

	resp := gin.H{"ids": page.IDs, "warnings": page.Warnings}
	if page.Table != nil {
		rows := make([]klRow, len(page.Table.Rows))
		for i, r := range page.Table.Rows {
			rows[i] = klRow{ID: r.ID, Grades: make([]*float64, len(r.Grades))}
			for j, g := range r.Grades {
				rows[i].Grades[j] = nullable(g)
			}
		}
		resp["columns"] = page.Table.Columns
		resp["rows"] = rows
	}
	if sel.HasSubject() {
		var visits []models.TimePoint
		for _, v := range d.SubjectVisits(sel.SubjectID) {
			visits = append(visits, v.TimePoint)
		}
		resp["visits"] = visits
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) visitSlice(c *gin.Context) (*dashboard.SlicePage, error) {
	sel, d, err := s.subjectSelection(c)
	if err != nil {
		return nil, err
	}
	return d.VisitSlice(sessionID(c), sel)
}

// SlicePNG renders the selected slice of the selected visit
func (s *Server) SlicePNG(c *gin.Context) {
	page, err := s.visitSlice(c)
	if err != nil {
		fail(c, err)
		return
	}
	sendPNG(c, page.Image, page.Warnings)
}

// VolumeInfo describes the slice SlicePNG would render
func (s *Server) VolumeInfo(c *gin.Context) {
	page, err := s.visitSlice(c)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Upload decodes the files of a multipart form. Field "files" holds a NIfTI
// file or a DICOM series, the optional field "mask" a NIfTI label volume.
func (s *Server) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Server.MaxUploadMB<<20)
	form, err := c.MultipartForm()
	if err != nil {
		fail(c, badRequest("%v", err))
		return
	}

	var uploads []volume.Upload
	var size int64
	for _, fh := range form.File["files"] {
		f, err := fh.Open()
		if err != nil {
			fail(c, badRequest("%v", err))
			return
		}
		defer f.Close()
		uploads = append(uploads, volume.Upload{Name: fh.Filename, Data: f})
		size += fh.Size
	}
	if len(uploads) == 0 {
		fail(c, badRequest("no files uploaded"))
		return
	}

	vol, err := volume.LoadUploads(uploads)
	if err != nil {
		fail(c, err)
		return
	}
	intensity.Normalize(vol.Data)

	var mask *volume.Volume
	if masks := form.File["mask"]; len(masks) > 0 {
		f, err := masks[0].Open()
		if err != nil {
			fail(c, badRequest("%v", err))
			return
		}
		defer f.Close()
		if mask, err = volume.LoadUploadedMask(volume.Upload{Name: masks[0].Filename, Data: f}); err != nil {
			fail(c, err)
			return
		}
		if err := volume.CheckPair(vol, mask); err != nil {
			fail(c, err)
			return
		}
	}

	// a new source replaces the whole upload, so a mask of an earlier upload
	// never outlives its volume
	id := sessionID(c)
	s.cache.Invalidate(id)
	s.uploaded.Put(id, Upload{Volume: vol, Mask: mask})
	slog.Info("Volume uploaded", "files", len(uploads), "size", humanize.Bytes(uint64(size)), "dims", vol.Dims)

	resp := gin.H{
		"source":  vol.Source,
		"format":  vol.Format.String(),
		"dims":    vol.Dims,
		"spacing": vol.Spacing,
	}
	if mask != nil {
		resp["labels"] = mask.Labels()
	}
	c.JSON(http.StatusOK, resp)
}

// UploadSlicePNG renders the session's uploaded volume with the view,
// slice and window of the selection
func (s *Server) UploadSlicePNG(c *gin.Context) {
	id := sessionID(c)
	u, ok := s.uploaded.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Details: "no uploaded volume in this session"})
		return
	}
	mask := u.Mask
	if mask != nil && !mask.SameShape(u.Volume) {
		mask = nil
	}

	page, err := s.uploads.RenderVolume(u.Volume, mask, s.sessions.Get(id))
	if err != nil {
		fail(c, err)
		return
	}
	sendPNG(c, page.Image, page.Warnings)
}

// UploadMeshPNG renders a surface from a multipart form. Field "mesh" holds
// an .stl or .obj file, the optional field "scalars" one value per vertex.
// Field range and vertex count are reported in headers.
func (s *Server) UploadMeshPNG(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Server.MaxUploadMB<<20)
	form, err := c.MultipartForm()
	if err != nil {
		fail(c, badRequest("%v", err))
		return
	}
	meshes := form.File["mesh"]
	if len(meshes) == 0 {
		fail(c, badRequest("no mesh uploaded"))
		return
	}
	ext := strings.ToLower(filepath.Ext(meshes[0].Filename))
	if ext != ".stl" && ext != ".obj" {
		fail(c, badRequest("unsupported mesh format %q", ext))
		return
	}

	f, err := meshes[0].Open()
	if err != nil {
		fail(c, badRequest("%v", err))
		return
	}
	defer f.Close()
	// staged under fixed names so the two files cannot collide
	uploads := []volume.Upload{{Name: "mesh" + ext, Data: f}}
	if scalars := form.File["scalars"]; len(scalars) > 0 {
		sf, err := scalars[0].Open()
		if err != nil {
			fail(c, badRequest("%v", err))
			return
		}
		defer sf.Close()
		uploads = append(uploads, volume.Upload{Name: "scalars.txt", Data: sf})
	}

	var page *dashboard.MeshFile
	err = volume.WithStagedFiles(uploads, func(_ string, paths []string) error {
		scalarPath := ""
		if len(paths) > 1 {
			scalarPath = paths[1]
		}
		var err error
		page, err = s.uploads.RenderMeshFile(paths[0], scalarPath)
		return err
	})
	if err != nil {
		fail(c, err)
		return
	}
	slog.Info("Mesh uploaded", "name", meshes[0].Filename, "vertices", page.Vertices, "faces", page.Faces)

	c.Header(VerticesHeader, strconv.Itoa(page.Vertices))
	if page.Field != "" {
		c.Header(RangeHeader, fmt.Sprintf("%g,%g", page.Lo, page.Hi))
	}
	sendPNG(c, page.Image, nil)
}

// boneParam reads ?bone=, defaulting to the selected bone
func boneParam(c *gin.Context, sel models.Selection) (models.Bone, error) {
	if v := c.Query("bone"); v != "" {
		b, err := models.ParseBone(v)
		if err != nil {
			return "", badRequest("%v", err)
		}
		return b, nil
	}
	return sel.Bone, nil
}

// fieldParam reads ?field=, defaulting to the selected field
func fieldParam(c *gin.Context, sel models.Selection) (models.Field, error) {
	if v := c.Query("field"); v != "" {
		f, err := models.ParseField(v)
		if err != nil {
			return "", badRequest("%v", err)
		}
		return f, nil
	}
	return sel.Field, nil
}

// MeshPNG renders one bone at the selected visit
func (s *Server) MeshPNG(c *gin.Context) {
	sel, d, err := s.subjectSelection(c)
	if err != nil {
		fail(c, err)
		return
	}
	bone, err := boneParam(c, sel)
	if err != nil {
		fail(c, err)
		return
	}
	if sel.Field, err = fieldParam(c, sel); err != nil {
		fail(c, err)
		return
	}

	page, err := d.MeshView(sel)
	if err != nil {
		fail(c, err)
		return
	}
	for _, p := range page.Panels {
		if p.Bone != bone {
			continue
		}
		if p.Cause() != nil {
			fail(c, p.Cause())
			return
		}
		sendPNG(c, p.Image, page.Warnings)
		return
	}
	fail(c, badRequest("unknown bone %s", bone))
}

// ComparePNG renders the longitudinal grid of one bone
func (s *Server) ComparePNG(c *gin.Context) {
	sel, d, err := s.subjectSelection(c)
	if err != nil {
		fail(c, err)
		return
	}
	bone, err := boneParam(c, sel)
	if err != nil {
		fail(c, err)
		return
	}
	field, err := fieldParam(c, sel)
	if err != nil {
		fail(c, err)
		return
	}

	cmp, err := d.Longitudinal(sel.SubjectID, bone, field)
	if err != nil {
		fail(c, err)
		return
	}
	img, err := d.CompareGrid(cmp)
	if err != nil {
		fail(c, err)
		return
	}
	sendPNG(c, img, cmp.Warnings)
}

type probeResponse struct {
	Index    int                 `json:"index"`
	Position [3]float64          `json:"position"`
	Distance float64             `json:"distance"`
	Values   map[string]*float64 `json:"values"`
}

// Probe reports the field values at the vertex nearest to ?x=&y=&z=
func (s *Server) Probe(c *gin.Context) {
	sel, d, err := s.subjectSelection(c)
	if err != nil {
		fail(c, err)
		return
	}
	if sel.Bone, err = boneParam(c, sel); err != nil {
		fail(c, err)
		return
	}

	var q [3]float64
	for i, name := range []string{"x", "y", "z"} {
		q[i], err = strconv.ParseFloat(c.Query(name), 64)
		if err != nil {
			fail(c, badRequest("query parameter %s must be a number", name))
			return
		}
	}

	hit, err := d.Probe(sel, r3.Vec{X: q[0], Y: q[1], Z: q[2]})
	if err != nil {
		fail(c, err)
		return
	}
	resp := probeResponse{
		Index:    hit.Index,
		Position: [3]float64{hit.Position.X, hit.Position.Y, hit.Position.Z},
		Distance: hit.Distance,
		Values:   make(map[string]*float64, len(hit.Values)),
	}
	for name, v := range hit.Values {
		resp.Values[name] = nullable(v)
	}
	c.JSON(http.StatusOK, resp)
}

// TrendPNG charts the per-visit mean of the field for both bones
func (s *Server) TrendPNG(c *gin.Context) {
	sel, d, err := s.subjectSelection(c)
	if err != nil {
		fail(c, err)
		return
	}
	field, err := fieldParam(c, sel)
	if err != nil {
		fail(c, err)
		return
	}

	page, err := d.Trend(sel.SubjectID, field)
	if err != nil {
		fail(c, err)
		return
	}
	sendPNG(c, page.Image, page.Warnings)
}

// MaskMeshSTL extracts the surface of ?label= from the selected visit's
// segmentation as a binary STL download
func (s *Server) MaskMeshSTL(c *gin.Context) {
	sel, d, err := s.subjectSelection(c)
	if err != nil {
		fail(c, err)
		return
	}
	label, err := strconv.Atoi(c.DefaultQuery("label", "1"))
	if err != nil || label <= 0 {
		fail(c, badRequest("label must be a positive integer"))
		return
	}

	triangles, err := d.MaskSurface(sessionID(c), sel.TimePoint, sel.SubjectID, label)
	if err != nil {
		fail(c, err)
		return
	}

	var buf bytes.Buffer
	if err := stl.Write(&buf, triangles); err != nil {
		fail(c, err)
		return
	}
	name := fmt.Sprintf("%d_%s_label%d.stl", sel.SubjectID, sel.TimePoint, label)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "model/stl", buf.Bytes())
}
