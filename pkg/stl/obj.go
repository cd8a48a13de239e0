package stl

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Indexed is a surface with shared vertices. Faces index into Vertices.
type Indexed struct {
	Vertices [][3]float32
	Faces    [][3]int
}

// Triangles expands the indexed surface into STL triangles
func (m *Indexed) Triangles() []Triangle {
	out := make([]Triangle, len(m.Faces))
	for i, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		out[i] = Triangle{Normal: faceNormal(a, b, c), Vertex1: a, Vertex2: b, Vertex3: c}
	}
	return out
}

// LoadOBJ reads the vertices and faces of a Wavefront OBJ file. Polygons are
// fan-triangulated; texture and normal indices are ignored.
func LoadOBJ(path string) (*Indexed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	m := &Indexed{}
	sc := bufio.NewScanner(file)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("%s:%d: vertex needs three coordinates", path, line)
			}
			v, err := parseVec(fields[1:4])
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
			m.Vertices = append(m.Vertices, v)
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("%s:%d: face needs at least three vertices", path, line)
			}
			idx := make([]int, 0, len(fields)-1)
			for _, f := range fields[1:] {
				i, err := objIndex(f, len(m.Vertices))
				if err != nil {
					return nil, fmt.Errorf("%s:%d: %w", path, line, err)
				}
				idx = append(idx, i)
			}
			for k := 1; k+1 < len(idx); k++ {
				m.Faces = append(m.Faces, [3]int{idx[0], idx[k], idx[k+1]})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// objIndex resolves a 1-based (or negative, relative) OBJ vertex reference
func objIndex(ref string, n int) (int, error) {
	if slash := strings.IndexByte(ref, '/'); slash >= 0 {
		ref = ref[:slash]
	}
	i, err := strconv.Atoi(ref)
	if err != nil {
		return 0, fmt.Errorf("bad vertex reference %q", ref)
	}
	switch {
	case i > 0:
		i--
	case i < 0:
		i += n
	default:
		return 0, fmt.Errorf("vertex reference 0 is invalid")
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("vertex reference %q outside %d vertices", ref, n)
	}
	return i, nil
}
