package ringbuf

import (
	"slices"
	"testing"
)

func TestRing_PushWithinCapacity(t *testing.T) {
	t.Parallel()
	r := New[int](4)
	r.Push(1)
	r.Push(2)
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if got := r.Snapshot(); !slices.Equal(got, []int{1, 2}) {
		t.Errorf("Snapshot = %v, want [1 2]", got)
	}
	if r.Full() {
		t.Error("Full = true, want false")
	}
}

func TestRing_OverwritesOldest(t *testing.T) {
	t.Parallel()
	r := New[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	if got := r.Snapshot(); !slices.Equal(got, []int{3, 4, 5}) {
		t.Errorf("Snapshot = %v, want [3 4 5]", got)
	}
	if r.Total() != 5 {
		t.Errorf("Total = %d, want 5", r.Total())
	}
	front, _ := r.Front()
	back, _ := r.Back()
	if front != 3 || back != 5 {
		t.Errorf("Front/Back = %d/%d, want 3/5", front, back)
	}
}

func TestRing_WriteLargerThanCapacity(t *testing.T) {
	t.Parallel()
	r := New[float32](4)
	r.Write([]float32{1, 2})
	r.Write([]float32{3, 4, 5, 6, 7, 8})
	if got := r.Snapshot(); !slices.Equal(got, []float32{5, 6, 7, 8}) {
		t.Errorf("Snapshot = %v, want [5 6 7 8]", got)
	}
	if r.Total() != 8 {
		t.Errorf("Total = %d, want 8", r.Total())
	}
}

func TestRing_Tail(t *testing.T) {
	t.Parallel()
	r := New[int](5)
	r.Write([]int{1, 2, 3, 4, 5, 6, 7})

	dst := make([]int, 3)
	if n := r.Tail(dst); n != 3 {
		t.Fatalf("Tail copied %d, want 3", n)
	}
	if !slices.Equal(dst, []int{5, 6, 7}) {
		t.Errorf("Tail = %v, want [5 6 7]", dst)
	}

	big := make([]int, 10)
	if n := r.Tail(big); n != 5 {
		t.Errorf("Tail into oversized dst copied %d, want 5", n)
	}
}

func TestRing_DropFront(t *testing.T) {
	t.Parallel()
	r := New[int](4)
	r.Write([]int{1, 2, 3, 4, 5})
	r.DropFront(2)
	if got := r.Snapshot(); !slices.Equal(got, []int{4, 5}) {
		t.Errorf("after DropFront(2) = %v, want [4 5]", got)
	}
	r.Push(6)
	r.Push(7)
	r.Push(8)
	if got := r.Snapshot(); !slices.Equal(got, []int{5, 6, 7, 8}) {
		t.Errorf("after refill = %v, want [5 6 7 8]", got)
	}
	r.DropFront(100)
	if r.Len() != 0 {
		t.Errorf("Len after over-drop = %d, want 0", r.Len())
	}
	if _, ok := r.Front(); ok {
		t.Error("Front on empty ring returned ok")
	}
}

func TestRing_Grow(t *testing.T) {
	t.Parallel()
	r := New[int](3)
	r.Write([]int{1, 2, 3, 4})
	r.Grow(6)
	if r.Cap() != 6 {
		t.Fatalf("Cap = %d, want 6", r.Cap())
	}
	r.Push(5)
	if got := r.Snapshot(); !slices.Equal(got, []int{2, 3, 4, 5}) {
		t.Errorf("Snapshot = %v, want [2 3 4 5]", got)
	}
}

func TestRing_AtPanicsOutOfRange(t *testing.T) {
	t.Parallel()
	r := New[int](2)
	r.Push(1)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for out-of-range At")
		}
	}()
	_ = r.At(1)
}

func TestRing_Reset(t *testing.T) {
	t.Parallel()
	r := New[int](2)
	r.Write([]int{1, 2, 3})
	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
	if r.Total() != 3 {
		t.Errorf("Total = %d, want 3 (preserved across Reset)", r.Total())
	}
}
