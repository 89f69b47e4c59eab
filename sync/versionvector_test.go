package sync

import "testing"

func TestMergeTakesComponentwiseMax(t *testing.T) {
	a := VersionVector{"a": 3, "b": 1}
	b := VersionVector{"a": 1, "b": 5, "c": 2}

	got := Merge(a, b)
	want := VersionVector{"a": 3, "b": 5, "c": 2}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("got[%q] = %d, want %d", k, got[k], v)
		}
	}
}

func TestMergeNeverMutatesInputs(t *testing.T) {
	a := VersionVector{"a": 1}
	b := VersionVector{"a": 2}
	_ = Merge(a, b)
	if a["a"] != 1 {
		t.Fatalf("Merge mutated a: %v", a)
	}
	if b["a"] != 2 {
		t.Fatalf("Merge mutated b: %v", b)
	}
}

func TestCompareEqual(t *testing.T) {
	a := VersionVector{"x": 1, "y": 2}
	b := VersionVector{"x": 1, "y": 2}
	if Compare(a, b) != ComparisonEqual {
		t.Fatalf("want equal, got %s", Compare(a, b))
	}
}

func TestCompareBeforeAfter(t *testing.T) {
	older := VersionVector{"x": 1}
	newer := VersionVector{"x": 2}
	if Compare(older, newer) != ComparisonBefore {
		t.Fatalf("want before, got %s", Compare(older, newer))
	}
	if Compare(newer, older) != ComparisonAfter {
		t.Fatalf("want after, got %s", Compare(newer, older))
	}
}

func TestCompareConcurrent(t *testing.T) {
	a := VersionVector{"x": 2, "y": 1}
	b := VersionVector{"x": 1, "y": 2}
	if Compare(a, b) != ComparisonConcurrent {
		t.Fatalf("want concurrent, got %s", Compare(a, b))
	}
}
