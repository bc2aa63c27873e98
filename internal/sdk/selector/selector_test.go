package selector

import "testing"

func TestSelect(t *testing.T) {
	tree := map[string]any{
		"context": map[string]any{
			"user": map[string]any{
				"id":      "u1",
				"country": "US",
			},
		},
		"result": map[string]any{
			"other-flag": map[string]any{
				"key": "treatment",
			},
		},
	}

	cases := []struct {
		name string
		path []string
		want any
	}{
		{"nested hit", []string{"context", "user", "id"}, "u1"},
		{"sibling hit", []string{"result", "other-flag", "key"}, "treatment"},
		{"missing leaf", []string{"context", "user", "email"}, nil},
		{"missing branch", []string{"context", "device", "os"}, nil},
		{"empty path", nil, nil},
		{"non-map intermediate", []string{"context", "user", "id", "sub"}, nil},
		{"empty segment", []string{"context", "", "id"}, nil},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Select(tree, c.path)
			if got != c.want {
				t.Errorf("Select(path=%v) = %v, want %v", c.path, got, c.want)
			}
		})
	}
}

func TestSelectNilTree(t *testing.T) {
	if got := Select(nil, []string{"a"}); got != nil {
		t.Errorf("Select(nil, ...) = %v, want nil", got)
	}
}
