package feature_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/hearken/pkg/feature"
)

func TestFlatten(t *testing.T) {
	t.Parallel()

	got, dim := feature.Flatten([]feature.Frame{{1, 2, 3}, {4, 5, 6}})
	if dim != 3 {
		t.Errorf("dim = %d, want 3", dim)
	}
	if want := []float32{1, 2, 3, 4, 5, 6}; !slices.Equal(got, want) {
		t.Errorf("Flatten = %v, want %v", got, want)
	}
}

func TestFlatten_Empty(t *testing.T) {
	t.Parallel()

	got, dim := feature.Flatten(nil)
	if got != nil || dim != 0 {
		t.Errorf("Flatten(nil) = %v, %d; want nil, 0", got, dim)
	}
}

func TestFlatten_ShortFramePadded(t *testing.T) {
	t.Parallel()

	got, _ := feature.Flatten([]feature.Frame{{1, 2}, {3}})
	if want := []float32{1, 2, 3, 0}; !slices.Equal(got, want) {
		t.Errorf("Flatten = %v, want %v", got, want)
	}
}
