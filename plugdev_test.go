package plugdev

import "testing"

func TestMergeParameters(t *testing.T) {
	old := []ParameterInfo{
		{ID: "a", Value: 0.3, Default: 0.5},
		{ID: "b", Value: 0.7, Default: 0.5},
	}
	updated := []ParameterInfo{
		{ID: "a", Default: 0.1},
		{ID: "c", Default: 0.9},
	}
	merged := MergeParameters(old, updated)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged parameters, got %d", len(merged))
	}
	if merged[0].ID != "a" || merged[0].Value != 0.3 {
		t.Errorf("expected a to keep its old value 0.3, got %v=%v", merged[0].ID, merged[0].Value)
	}
	if merged[1].ID != "c" || merged[1].Value != 0.9 {
		t.Errorf("expected c to take its default 0.9, got %v=%v", merged[1].ID, merged[1].Value)
	}
	for _, p := range merged {
		if p.ID == "b" {
			t.Errorf("dropped id b should not survive the merge")
		}
	}
}

func TestMergeParametersRevalidatesCarriedValues(t *testing.T) {
	// the old snapshot predates the [0,1] check, or the declaration changed
	// under the same id; either way the merged value must be in range
	old := []ParameterInfo{{ID: "a", Value: 1.5}}
	updated := []ParameterInfo{{ID: "a", Default: 0.25}}
	merged := MergeParameters(old, updated)
	if merged[0].Value != 0.25 {
		t.Errorf("out-of-range carried value should fall back to default, got %v", merged[0].Value)
	}
}

func TestMergeParametersEmptyOld(t *testing.T) {
	updated := []ParameterInfo{{ID: "x", Default: 0.5}}
	merged := MergeParameters(nil, updated)
	if len(merged) != 1 || merged[0].Value != 0.5 {
		t.Fatalf("fresh merge should use defaults, got %+v", merged)
	}
}

func TestValidNormalized(t *testing.T) {
	for _, v := range []float32{0, 0.5, 1} {
		if !ValidNormalized(v) {
			t.Errorf("%v should be valid", v)
		}
	}
	nan := float32(0)
	nan /= nan
	for _, v := range []float32{-0.1, 1.5, nan} {
		if ValidNormalized(v) {
			t.Errorf("%v should be invalid", v)
		}
	}
}
