package frame

import (
	"errors"
	"testing"
)

func TestFrame_AppendOnly(t *testing.T) {
	f := New(3)

	if err := f.AddFloats("SCORE", []float64{0.1, 0.2, 0.3}); err != nil {
		t.Fatalf("AddFloats failed: %v", err)
	}

	// Overwriting an existing column must fail, regardless of kind.
	if err := f.AddFloats("SCORE", []float64{0, 0, 0}); !errors.Is(err, ErrColumnExists) {
		t.Errorf("expected ErrColumnExists, got %v", err)
	}
	if err := f.AddInts("SCORE", []int64{0, 0, 0}); !errors.Is(err, ErrColumnExists) {
		t.Errorf("expected ErrColumnExists for cross-kind overwrite, got %v", err)
	}

	vals, ok := f.Floats("SCORE")
	if !ok {
		t.Fatal("SCORE column missing")
	}
	if vals[1] != 0.2 {
		t.Errorf("expected 0.2, got %v", vals[1])
	}
}

func TestFrame_LengthMismatch(t *testing.T) {
	f := New(2)

	if err := f.AddInts("FLAG", []int64{1}); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
	if f.Has("FLAG") {
		t.Error("rejected column should not be registered")
	}
}

func TestFrame_ColumnOrder(t *testing.T) {
	f := New(1)

	_ = f.AddFloats("A", []float64{1})
	_ = f.AddStrings("B", []string{"x"})
	_ = f.AddInts("C", []int64{2})
	_ = f.AddLists("D", [][]float64{{0.5}})

	got := f.Columns()
	want := []string{"A", "B", "C", "D"}
	if len(got) != len(want) {
		t.Fatalf("expected %d columns, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestFrame_EmptyFrame(t *testing.T) {
	f := New(0)

	if err := f.AddFloats("SCORE", nil); err != nil {
		t.Fatalf("empty column on empty frame should succeed: %v", err)
	}
	if f.Len() != 0 {
		t.Errorf("expected 0 rows, got %d", f.Len())
	}
}
