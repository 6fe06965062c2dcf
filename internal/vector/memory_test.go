package vector

import (
	"context"
	"testing"
)

var _ Index = (*MemoryIndex)(nil)

func TestMemoryIndex_AddSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	ids := []string{"a.jpg", "b.jpg", "c.jpg"}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a.jpg" {
		t.Errorf("top result should be a.jpg, got %s", results[0].ID)
	}
	if results[1].ID != "b.jpg" {
		t.Errorf("second result should be b.jpg, got %s", results[1].ID)
	}
}

func TestMemoryIndex_SearchTieBreaksByID(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"z", "m", "a"}, [][]float32{{1, 0}, {1, 0}, {1, 0}})
	results, err := idx.Search(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"a", "m", "z"} {
		if results[i].ID != want {
			t.Errorf("results[%d]=%s, want %s", i, results[i].ID, want)
		}
	}
}

func TestMemoryIndex_SearchEmptyAndBadQuery(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	results, err := idx.Search(ctx, []float32{1, 0}, 5)
	if err != nil || len(results) != 0 {
		t.Errorf("empty index: results=%v err=%v", results, err)
	}
	if _, err := idx.Search(ctx, []float32{1, 0, 0}, 1); err == nil {
		t.Error("expected dimension mismatch error")
	}
	if err := idx.Add(ctx, []string{"a"}, [][]float32{{1}}); err == nil {
		t.Error("expected dimension mismatch on add")
	}
}

func TestMemoryIndex_VectorAndReplace(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"x"}, [][]float32{{1, 0}})
	_ = idx.Add(ctx, []string{"x"}, [][]float32{{0, 1}})
	if idx.Size() != 1 {
		t.Fatalf("re-adding should replace, size=%d", idx.Size())
	}
	v, ok := idx.Vector("x")
	if !ok || v[1] != 1 {
		t.Fatalf("Vector(x)=%v ok=%v", v, ok)
	}
	v[1] = 7
	again, _ := idx.Vector("x")
	if again[1] != 1 {
		t.Error("Vector should return a copy")
	}
	if _, ok := idx.Vector("missing"); ok {
		t.Error("missing id should not be found")
	}
}

func TestNewMemoryIndex_InvalidDimension(t *testing.T) {
	if _, err := NewMemoryIndex(0); err == nil {
		t.Error("expected error for zero dimension")
	}
}
