package mesh

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// vertexPoint is a mesh vertex that remembers its index, since building the
// tree reorders the points
type vertexPoint struct {
	r3.Vec
	index int
}

// Compare implements the kdtree.Comparable interface
func (p vertexPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(vertexPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p vertexPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p vertexPoint) Distance(c kdtree.Comparable) float64 {
	d := r3.Sub(p.Vec, c.(vertexPoint).Vec)
	return r3.Dot(d, d)
}

type vertexPoints []vertexPoint

func (p vertexPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p vertexPoints) Len() int                              { return len(p) }
func (p vertexPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p vertexPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(vertexPlane{vertexPoints: p, Dim: d}, kdtree.MedianOfRandoms(vertexPlane{vertexPoints: p, Dim: d}, 100))
}

// vertexPlane implements sort.Interface and kdtree.SortSlicer
type vertexPlane struct {
	vertexPoints
	kdtree.Dim
}

func (p vertexPlane) Less(i, j int) bool {
	return p.vertexPoints[i].Compare(p.vertexPoints[j], p.Dim) < 0
}

func (p vertexPlane) Slice(start, end int) kdtree.SortSlicer {
	return vertexPlane{vertexPoints: p.vertexPoints[start:end], Dim: p.Dim}
}

func (p vertexPlane) Swap(i, j int) {
	p.vertexPoints[i], p.vertexPoints[j] = p.vertexPoints[j], p.vertexPoints[i]
}

// Hit is the vertex nearest to a probe position
type Hit struct {
	Index    int                `json:"index"`
	Position r3.Vec             `json:"position"`
	Distance float64            `json:"distance"`
	Values   map[string]float64 `json:"values"`
}

// Prober answers nearest-vertex queries on a mesh
type Prober struct {
	mesh *Mesh
	tree *kdtree.Tree
}

// NewProber indexes the vertices of m
func NewProber(m *Mesh) (*Prober, error) {
	if len(m.Vertices) == 0 {
		return nil, errors.New("cannot probe an empty mesh")
	}
	points := make(vertexPoints, len(m.Vertices))
	for i, v := range m.Vertices {
		points[i] = vertexPoint{Vec: v, index: i}
	}
	return &Prober{mesh: m, tree: kdtree.New(points, false)}, nil
}

// Nearest returns the vertex closest to q with the value of every bound
// field at that vertex
func (p *Prober) Nearest(q r3.Vec) Hit {
	c, dist := p.tree.Nearest(vertexPoint{Vec: q})
	v := c.(vertexPoint)

	hit := Hit{
		Index:    v.index,
		Position: v.Vec,
		Distance: math.Sqrt(dist),
		Values:   make(map[string]float64),
	}
	for _, name := range p.mesh.FieldNames() {
		values, _ := p.mesh.Field(name)
		hit.Values[name] = values[v.index]
	}
	return hit
}
