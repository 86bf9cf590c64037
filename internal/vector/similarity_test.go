package vector

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"self", []float32{0.3, 0.4, 0.5}, []float32{0.3, 0.4, 0.5}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 2}, 0},
		{"unnormalized", []float32{2, 0}, []float32{5, 0}, 1},
		{"length mismatch", []float32{1, 0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMaxSimilarity(t *testing.T) {
	set := [][]float32{{0, 1}, {1, 1}, {1, 0}}
	got, at := MaxSimilarity([]float32{1, 0}, set)
	if at != 2 || math.Abs(got-1) > 1e-6 {
		t.Errorf("MaxSimilarity = (%v, %d), want (1, 2)", got, at)
	}
	if got, at := MaxSimilarity([]float32{1, 0}, nil); got != 0 || at != -1 {
		t.Errorf("empty set: got (%v, %d)", got, at)
	}
}

func TestCentroid(t *testing.T) {
	got := Centroid([]float32{1, 0, 3}, []float32{0, 1, 0}, []float32{2, 2, 0})
	want := []float32{1, 1, 1}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Fatalf("Centroid = %v, want %v", got, want)
		}
	}
	if Centroid([]float32{1}, []float32{1, 2}) != nil {
		t.Error("mismatched lengths should give nil")
	}
}

func TestEncodeDecode(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("got %v, want %v", out, in)
		}
	}
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestFlat(t *testing.T) {
	f := NewFlat(0)
	if err := f.Add("a", []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	_ = f.Add("b", []float32{0.9, 0.1, 0})
	_ = f.Add("c", []float32{0, 1, 0})
	if err := f.Add("d", []float32{1, 0}); err == nil {
		t.Error("expected dimension mismatch")
	}
	if f.Len() != 3 || f.Dimensions() != 3 {
		t.Errorf("Len=%d Dimensions=%d", f.Len(), f.Dimensions())
	}
	res, err := f.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 || res[0].ID != "a" || res[1].ID != "b" {
		t.Errorf("Search = %+v", res)
	}
	f.Reset(0)
	if f.Len() != 0 {
		t.Error("Reset should empty the index")
	}
}
