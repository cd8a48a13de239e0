package mesh

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"oaiviewer/pkg/volume"
)

// ErrNoData is returned when no finite value is available to scale a colormap
var ErrNoData = errors.New("no finite scalar values")

// CardinalityError rejects a scalar field whose length is not the mesh's
// vertex count
type CardinalityError struct {
	Field    string
	Values   int
	Vertices int
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("scalar field %q has %d values but the mesh has %d vertices", e.Field, e.Values, e.Vertices)
}

// LoadScalars reads one float per line. Blank lines are skipped and "nan"
// is accepted in any case.
func LoadScalars(path string) ([]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var values []float64
	sc := bufio.NewScanner(file)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, &volume.DecodeError{Path: path, Err: fmt.Errorf("line %d: %w", line, err)}
		}
		values = append(values, v)
	}
	if err := sc.Err(); err != nil {
		return nil, &volume.DecodeError{Path: path, Err: err}
	}
	return values, nil
}

// Bind attaches values to the mesh under name. The slice is kept by
// reference. Any length other than the vertex count is rejected, and a
// rejected field is not attached.
func (m *Mesh) Bind(name string, values []float64) error {
	if len(values) != len(m.Vertices) {
		return &CardinalityError{Field: name, Values: len(values), Vertices: len(m.Vertices)}
	}
	if m.fields == nil {
		m.fields = make(map[string][]float64)
	}
	m.fields[name] = values
	return nil
}

// finite drops NaN and infinite values
func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// GlobalRange returns the min and max over every finite value of every
// field. Nil fields (missing time points) contribute nothing.
func GlobalRange(fields ...[]float64) (lo, hi float64, err error) {
	lo, hi = math.Inf(1), math.Inf(-1)
	found := false
	for _, f := range fields {
		vals := finite(f)
		if len(vals) == 0 {
			continue
		}
		found = true
		lo = math.Min(lo, floats.Min(vals))
		hi = math.Max(hi, floats.Max(vals))
	}
	if !found {
		return 0, 0, ErrNoData
	}
	return lo, hi, nil
}

// Mean is the average of the finite values, NaN when there are none
func Mean(values []float64) float64 {
	vals := finite(values)
	if len(vals) == 0 {
		return math.NaN()
	}
	return floats.Sum(vals) / float64(len(vals))
}
