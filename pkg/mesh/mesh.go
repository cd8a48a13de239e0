// Package mesh holds bone surface meshes with per-vertex scalar fields and
// turns them into coloured images.
package mesh

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"oaiviewer/pkg/stl"
	"oaiviewer/pkg/volume"
)

// Mesh is a triangulated surface. Scalar fields are bound per vertex.
type Mesh struct {
	Vertices []r3.Vec
	Faces    [][3]int
	Source   string

	fields map[string][]float64
}

// New creates a mesh from shared vertices and faces
func New(vertices []r3.Vec, faces [][3]int) *Mesh {
	return &Mesh{Vertices: vertices, Faces: faces, fields: make(map[string][]float64)}
}

// FromTriangles builds a mesh from an STL triangle soup. Corners with
// identical coordinates become one vertex, numbered in the order they are
// first seen, so the vertex order matches scalar files written against the
// same STL.
func FromTriangles(triangles []stl.Triangle) *Mesh {
	index := make(map[[3]float32]int, len(triangles)/2)
	var vertices []r3.Vec
	faces := make([][3]int, 0, len(triangles))

	for _, t := range triangles {
		var f [3]int
		for c, v := range t.Vertices() {
			i, ok := index[v]
			if !ok {
				i = len(vertices)
				index[v] = i
				vertices = append(vertices, r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])})
			}
			f[c] = i
		}
		faces = append(faces, f)
	}
	return New(vertices, faces)
}

// FromIndexed keeps the vertex order of an indexed surface
func FromIndexed(ix *stl.Indexed) *Mesh {
	vertices := make([]r3.Vec, len(ix.Vertices))
	for i, v := range ix.Vertices {
		vertices[i] = r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
	}
	faces := make([][3]int, len(ix.Faces))
	copy(faces, ix.Faces)
	return New(vertices, faces)
}

// Load reads an .stl or .obj file. Files the readers cannot parse are
// reported as *volume.DecodeError.
func Load(path string) (*Mesh, error) {
	var (
		m   *Mesh
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".stl":
		var triangles []stl.Triangle
		if triangles, err = stl.Load(path); err == nil {
			m = FromTriangles(triangles)
		}
	case ".obj":
		var ix *stl.Indexed
		if ix, err = stl.LoadOBJ(path); err == nil {
			m = FromIndexed(ix)
		}
	default:
		err = fmt.Errorf("unsupported mesh format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, &volume.DecodeError{Path: path, Err: err}
	}

	m.Source = path
	slog.Debug("Loaded mesh", "path", path, "vertices", len(m.Vertices), "faces", len(m.Faces))
	return m, nil
}

// VertexCount is the number of distinct vertices
func (m *Mesh) VertexCount() int {
	return len(m.Vertices)
}

// Bounds returns the axis-aligned bounding box
func (m *Mesh) Bounds() (lo, hi r3.Vec) {
	if len(m.Vertices) == 0 {
		return r3.Vec{}, r3.Vec{}
	}
	lo = r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi = r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, v := range m.Vertices {
		lo = r3.Vec{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vec{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	return lo, hi
}

// Center is the middle of the bounding box
func (m *Mesh) Center() r3.Vec {
	lo, hi := m.Bounds()
	return r3.Scale(0.5, r3.Add(lo, hi))
}

// FaceNormal returns the unit normal of face i, zero when degenerate
func (m *Mesh) FaceNormal(i int) r3.Vec {
	f := m.Faces[i]
	a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	if r3.Norm(n) == 0 {
		return r3.Vec{}
	}
	return r3.Unit(n)
}

// Triangles converts the mesh back to STL triangles
func (m *Mesh) Triangles() []stl.Triangle {
	out := make([]stl.Triangle, len(m.Faces))
	for i, f := range m.Faces {
		n := m.FaceNormal(i)
		out[i] = stl.Triangle{
			Normal:  vec32(n),
			Vertex1: vec32(m.Vertices[f[0]]),
			Vertex2: vec32(m.Vertices[f[1]]),
			Vertex3: vec32(m.Vertices[f[2]]),
		}
	}
	return out
}

func vec32(v r3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}

// FieldNames lists the bound scalar fields in name order
func (m *Mesh) FieldNames() []string {
	names := make([]string, 0, len(m.fields))
	for name := range m.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Field returns a bound scalar field. The slice is shared with the mesh.
func (m *Mesh) Field(name string) ([]float64, bool) {
	v, ok := m.fields[name]
	return v, ok
}
