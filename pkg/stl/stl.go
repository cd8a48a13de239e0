// Package stl reads and writes triangle surfaces: binary and ASCII STL,
// Wavefront OBJ, and iso-surfaces extracted from label volumes.
package stl

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Triangle represents a single triangle in the STL file
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// Vertices returns the three corners in winding order
func (t Triangle) Vertices() [3][3]float32 {
	return [3][3]float32{t.Vertex1, t.Vertex2, t.Vertex3}
}

const (
	headerSize   = 80
	triangleSize = 50
)

// SaveToSTL writes triangles as a binary STL file. A failed close is
// reported like a failed write.
func SaveToSTL(filename string, triangles []Triangle) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close STL file: %w", cerr)
		}
	}()

	w := bufio.NewWriter(file)
	if err := Write(w, triangles); err != nil {
		return err
	}
	return w.Flush()
}

// Write encodes triangles as binary STL
func Write(w io.Writer, triangles []Triangle) error {
	header := make([]byte, headerSize)
	copy(header, "oaiviewer binary STL")
	if _, err := w.Write(header); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return err
	}

	buf := make([]byte, triangleSize)
	for _, t := range triangles {
		off := 0
		for _, v := range [4][3]float32{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3} {
			for _, c := range v {
				binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(c))
				off += 4
			}
		}
		// attribute byte count
		buf[48], buf[49] = 0, 0
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a binary or ASCII STL file
func Load(path string) ([]Triangle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	triangles, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return triangles, nil
}

// Decode parses STL bytes. A file whose size matches the binary triangle
// count is binary even if its header starts with "solid".
func Decode(data []byte) ([]Triangle, error) {
	if len(data) >= headerSize+4 {
		n := binary.LittleEndian.Uint32(data[headerSize:])
		if int64(len(data)) == headerSize+4+int64(n)*triangleSize {
			return decodeBinary(data[headerSize+4:], int(n)), nil
		}
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("solid")) {
		return decodeASCII(data)
	}
	return nil, fmt.Errorf("not an STL file (%d bytes)", len(data))
}

func decodeBinary(body []byte, n int) []Triangle {
	triangles := make([]Triangle, n)
	for i := range triangles {
		rec := body[i*triangleSize:]
		var vs [4][3]float32
		for v := 0; v < 4; v++ {
			for c := 0; c < 3; c++ {
				vs[v][c] = math.Float32frombits(binary.LittleEndian.Uint32(rec[(v*3+c)*4:]))
			}
		}
		triangles[i] = Triangle{Normal: vs[0], Vertex1: vs[1], Vertex2: vs[2], Vertex3: vs[3]}
	}
	return triangles
}

func decodeASCII(data []byte) ([]Triangle, error) {
	var (
		triangles []Triangle
		cur       Triangle
		corners   int
		line      int
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "facet":
			cur, corners = Triangle{}, 0
			if len(fields) == 5 && fields[1] == "normal" {
				n, err := parseVec(fields[2:])
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				cur.Normal = n
			}
		case "vertex":
			if len(fields) != 4 || corners >= 3 {
				return nil, fmt.Errorf("line %d: malformed vertex", line)
			}
			v, err := parseVec(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			switch corners {
			case 0:
				cur.Vertex1 = v
			case 1:
				cur.Vertex2 = v
			case 2:
				cur.Vertex3 = v
			}
			corners++
		case "endfacet":
			if corners != 3 {
				return nil, fmt.Errorf("line %d: facet with %d vertices", line, corners)
			}
			triangles = append(triangles, cur)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return triangles, nil
}

func parseVec(fields []string) ([3]float32, error) {
	var v [3]float32
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return v, err
		}
		v[i] = float32(f)
	}
	return v, nil
}

// faceNormal returns the unit normal of the triangle (a, b, c), or zero for
// a degenerate triangle
func faceNormal(a, b, c [3]float32) [3]float32 {
	u := [3]float32{b[0] - a[0], b[1] - a[1], b[2] - a[2]}
	v := [3]float32{c[0] - a[0], c[1] - a[1], c[2] - a[2]}
	n := [3]float32{
		u[1]*v[2] - u[2]*v[1],
		u[2]*v[0] - u[0]*v[2],
		u[0]*v[1] - u[1]*v[0],
	}
	mag := float32(math.Sqrt(float64(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])))
	if mag == 0 {
		return [3]float32{}
	}
	return [3]float32{n[0] / mag, n[1] / mag, n[2] / mag}
}
