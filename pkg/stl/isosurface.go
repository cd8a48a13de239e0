package stl

// IsoSurface extracts the boundary of the region where data >= iso from a
// regular grid using marching tetrahedra. Data is indexed z*w*h + y*w + x.
type IsoSurface struct {
	data          []float64
	width, height int
	depth         int
	iso           float64
	scale         [3]float32
}

// cube corner offsets (x, y, z)
var cubeCorners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// six tetrahedra sharing the 0-6 diagonal
var cubeTetrahedra = [6][4]int{
	{0, 5, 1, 6}, {0, 1, 2, 6}, {0, 2, 3, 6},
	{0, 3, 7, 6}, {0, 7, 4, 6}, {0, 4, 5, 6},
}

// NewIsoSurface creates an extractor for a w x h x d grid
func NewIsoSurface(data []float64, width, height, depth int, iso float64) *IsoSurface {
	return &IsoSurface{
		data:   data,
		width:  width,
		height: height,
		depth:  depth,
		iso:    iso,
		scale:  [3]float32{1, 1, 1},
	}
}

// SetScale sets the physical size of one voxel along x, y and z
func (s *IsoSurface) SetScale(x, y, z float32) {
	s.scale = [3]float32{x, y, z}
}

func (s *IsoSurface) value(x, y, z int) float64 {
	return s.data[z*s.width*s.height+y*s.width+x]
}

type gridPoint struct {
	pos    [3]float32
	value  float64
	inside bool
}

// GenerateTriangles walks every cell and returns the surface triangles with
// normals pointing out of the region
func (s *IsoSurface) GenerateTriangles() []Triangle {
	var triangles []Triangle
	if len(s.data) < s.width*s.height*s.depth {
		return nil
	}

	var corners [8]gridPoint
	for z := 0; z < s.depth-1; z++ {
		for y := 0; y < s.height-1; y++ {
			for x := 0; x < s.width-1; x++ {
				inside := 0
				for i, o := range cubeCorners {
					cx, cy, cz := x+o[0], y+o[1], z+o[2]
					v := s.value(cx, cy, cz)
					corners[i] = gridPoint{
						pos:    [3]float32{float32(cx) * s.scale[0], float32(cy) * s.scale[1], float32(cz) * s.scale[2]},
						value:  v,
						inside: v >= s.iso,
					}
					if corners[i].inside {
						inside++
					}
				}
				if inside == 0 || inside == 8 {
					continue
				}
				for _, tet := range cubeTetrahedra {
					triangles = s.polygonise(triangles, [4]gridPoint{
						corners[tet[0]], corners[tet[1]], corners[tet[2]], corners[tet[3]],
					})
				}
			}
		}
	}
	return triangles
}

func (s *IsoSurface) polygonise(out []Triangle, tet [4]gridPoint) []Triangle {
	var in, outside []gridPoint
	for _, p := range tet {
		if p.inside {
			in = append(in, p)
		} else {
			outside = append(outside, p)
		}
	}

	// outward reference direction: from inside corners to outside corners
	var dir [3]float32
	switch len(in) {
	case 0, 4:
		return out
	default:
		ci, co := centroid(in), centroid(outside)
		dir = [3]float32{co[0] - ci[0], co[1] - ci[1], co[2] - ci[2]}
	}

	switch len(in) {
	case 1, 3:
		lone, rest := in, outside
		if len(in) == 3 {
			lone, rest = outside, in
		}
		a := s.interp(lone[0], rest[0])
		b := s.interp(lone[0], rest[1])
		c := s.interp(lone[0], rest[2])
		out = appendOriented(out, a, b, c, dir)
	case 2:
		ac := s.interp(in[0], outside[0])
		ad := s.interp(in[0], outside[1])
		bd := s.interp(in[1], outside[1])
		bc := s.interp(in[1], outside[0])
		out = appendOriented(out, ac, ad, bd, dir)
		out = appendOriented(out, ac, bd, bc, dir)
	}
	return out
}

// interp places the crossing on the edge p-q by linear interpolation
func (s *IsoSurface) interp(p, q gridPoint) [3]float32 {
	t := float32(0.5)
	if d := q.value - p.value; d != 0 {
		t = float32((s.iso - p.value) / d)
	}
	return [3]float32{
		p.pos[0] + t*(q.pos[0]-p.pos[0]),
		p.pos[1] + t*(q.pos[1]-p.pos[1]),
		p.pos[2] + t*(q.pos[2]-p.pos[2]),
	}
}

func centroid(ps []gridPoint) [3]float32 {
	var c [3]float32
	for _, p := range ps {
		c[0] += p.pos[0]
		c[1] += p.pos[1]
		c[2] += p.pos[2]
	}
	n := float32(len(ps))
	return [3]float32{c[0] / n, c[1] / n, c[2] / n}
}

func appendOriented(out []Triangle, a, b, c, dir [3]float32) []Triangle {
	n := faceNormal(a, b, c)
	if n == ([3]float32{}) {
		return out
	}
	if n[0]*dir[0]+n[1]*dir[1]+n[2]*dir[2] < 0 {
		b, c = c, b
		n = [3]float32{-n[0], -n[1], -n[2]}
	}
	return append(out, Triangle{Normal: n, Vertex1: a, Vertex2: b, Vertex3: c})
}
