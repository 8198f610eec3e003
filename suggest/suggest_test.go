package suggest

import (
	"reflect"
	"testing"
)

func TestClosest(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		candidates []string
		want       []string
	}{
		{
			name:       "transposition",
			target:     "nmae",
			candidates: []string{"name", "date", "title"},
			want:       []string{"name"},
		},
		{
			name:       "ranked by distance then name",
			target:     "uppr",
			candidates: []string{"upper", "lower", "uppercase", "up"},
			want:       []string{"upper", "up"},
		},
		{
			name:       "length difference pruned",
			target:     "ab",
			candidates: []string{"abcdefgh"},
			want:       []string{},
		},
		{
			name:       "at most three results",
			target:     "cat",
			candidates: []string{"bat", "hat", "mat", "rat", "sat"},
			want:       []string{"bat", "hat", "mat"},
		},
		{
			name:       "exact match excluded",
			target:     "sort",
			candidates: []string{"sort", "sorted"},
			want:       []string{"sorted"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Closest(tt.target, tt.candidates)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Closest(%q) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}
}

func TestBoundedDistanceAborts(t *testing.T) {
	if _, ok := boundedDistance("aaaa", "zzzz", MaxDistance); ok {
		t.Error("expected abort for distance beyond threshold")
	}
	if d, ok := boundedDistance("take", "tale", MaxDistance); !ok || d != 1 {
		t.Errorf("boundedDistance(take, tale) = %d,%v, want 1,true", d, ok)
	}
}
