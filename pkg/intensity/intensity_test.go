package intensity

import (
	"math"
	"math/rand"
	"testing"
)

func randomData(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, n)
	for i := range data {
		data[i] = rng.NormFloat64()*300 + 1000
	}
	return data
}

func TestNormalizeRange(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		data := randomData(5000, seed)
		orig := append([]float64(nil), data...)

		r := Normalize(data)
		if r.Hi <= r.Lo {
			t.Fatalf("Expected increasing percentiles, got %+v", r)
		}
		for i, v := range data {
			if v < 0 || v > 1 {
				t.Fatalf("Value %d out of [0,1]: %f", i, v)
			}
			if orig[i] <= r.Lo && v != 0 {
				t.Errorf("Expected value at/below p1 to map to 0, got %f", v)
			}
			if orig[i] >= r.Hi && v != 1 {
				t.Errorf("Expected value at/above p99 to map to 1, got %f", v)
			}
		}
	}
}

func TestNormalizeIsMonotonic(t *testing.T) {
	data := randomData(2000, 42)
	out, _ := Normalized(data)
	for i := range data {
		for j := i + 1; j < i+20 && j < len(data); j++ {
			if data[i] < data[j] && out[i] > out[j] {
				t.Fatalf("Normalisation not monotonic at %d,%d", i, j)
			}
		}
	}
}

func TestNormalizedLeavesInputUntouched(t *testing.T) {
	data := []float64{5, 1, 9, 3}
	Normalized(data)
	if data[0] != 5 || data[2] != 9 {
		t.Errorf("Expected input unchanged, got %v", data)
	}
}

func TestNormalizeDegenerateAndNaN(t *testing.T) {
	flat := []float64{7, 7, 7, 7}
	Normalize(flat)
	for _, v := range flat {
		if v != 0 {
			t.Errorf("Expected constant volume to map to 0, got %v", flat)
			break
		}
	}

	data := make([]float64, 101)
	for i := range data {
		data[i] = float64(i)
	}
	data[50] = math.NaN()
	r := Normalize(data)
	if math.IsNaN(r.Lo) || math.IsNaN(r.Hi) {
		t.Fatalf("Expected NaN excluded from percentiles, got %+v", r)
	}
	if data[50] != 0 {
		t.Errorf("Expected NaN voxel to map to 0, got %f", data[50])
	}

	empty := []float64{math.NaN(), math.NaN()}
	if r := Normalize(empty); r != (Range{}) || empty[0] != 0 {
		t.Errorf("Expected all-NaN input to map to zeros, got %v %+v", empty, r)
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{4, 1, 3, 2, math.NaN()}
	if p := Percentile(values, 0); p != 1 {
		t.Errorf("Expected min 1, got %f", p)
	}
	if p := Percentile(values, 1); p != 4 {
		t.Errorf("Expected max 4, got %f", p)
	}
	if p := Percentile(nil, 0.5); !math.IsNaN(p) {
		t.Errorf("Expected NaN for empty input, got %f", p)
	}
}

func TestApplyWindowIdentity(t *testing.T) {
	img := []float64{0, 0.1, 0.25, 0.5, 0.75, 0.99, 1}
	out := ApplyWindow(img, 0.5, 1.0)
	for i := range img {
		if math.Abs(out[i]-img[i]) > 1e-12 {
			t.Errorf("Expected identity at %d: %f vs %f", i, img[i], out[i])
		}
	}
}

func TestApplyWindowBoundsAndMonotonic(t *testing.T) {
	windows := []Window{{0.5, 0.5}, {0.2, 0.1}, {0.9, 0.3}, {0.5, 0.01}}
	for _, w := range windows {
		prev := -1.0
		for x := -0.5; x <= 1.5; x += 0.01 {
			y := w.Apply(x)
			if y < 0 || y > 1 {
				t.Fatalf("Window %+v: output %f out of range", w, y)
			}
			if y < prev {
				t.Fatalf("Window %+v: not monotonic at %f", w, x)
			}
			prev = y
		}

		lo, hi := w.Bounds()
		mid := (lo + hi) / 2
		if math.Abs(w.Apply(mid)-0.5) > 1e-9 {
			t.Errorf("Window %+v: expected 0.5 at center, got %f", w, w.Apply(mid))
		}
	}
}

func TestApplyWindowZeroWidth(t *testing.T) {
	out := ApplyWindow([]float64{0.2, 0.5, 0.8, math.NaN()}, 0.5, 0)
	want := []float64{0, 1, 1, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("Index %d: expected %f, got %f", i, want[i], out[i])
		}
	}
}
