package smart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		value any
		size  string
		want  any
	}{
		{"size override", map[string]any{"__300x250__": "A", "default": "B"}, "300x250", "A"},
		{"default fallback", map[string]any{"default": "B"}, "anything", "B"},
		{"empty fallback", map[string]any{}, "x", ""},
		{"scalar passthrough", "scalar", "x", "scalar"},
		{"number passthrough", float64(5), "x", float64(5)},
		{"bool passthrough", true, "x", true},
		{"nil passthrough", nil, "x", nil},
		{"no size uses default", map[string]any{"__300x250__": "A", "default": "B"}, "", "B"},
		{"nil size entry falls back", map[string]any{"__300x250__": nil, "default": "B"}, "300x250", "B"},
		{"slice is not a smart object", []any{"a"}, "x", []any{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.value, tt.size))
		})
	}
}

func TestResolveAll(t *testing.T) {
	got := ResolveAll(map[string]any{
		"headline": map[string]any{"__728x90__": "Wide", "default": "Narrow"},
		"cta":      "Go",
	}, "728x90")

	assert.Equal(t, map[string]any{"headline": "Wide", "cta": "Go"}, got)
}

func TestFixBooleans(t *testing.T) {
	assert.Equal(t, true, FixBooleans("TRUE"))
	assert.Equal(t, false, FixBooleans("False"))
	assert.Equal(t, "abc", FixBooleans("abc"))
	assert.Equal(t, 5, FixBooleans(5))
	assert.Equal(t, true, FixBooleans(true))
	assert.Equal(t, " true", FixBooleans(" true"))
}

func TestSizeOf(t *testing.T) {
	assert.Equal(t, "300x250", SizeOf(map[string]any{"size": "300x250"}))
	assert.Equal(t, "", SizeOf(map[string]any{"size": 300}))
	assert.Equal(t, "", SizeOf(nil))
}

func TestResolveLeavesSlicesAndMissingKeys(t *testing.T) {
	assert.Equal(t, []any{"a", "b"}, Resolve([]any{"a", "b"}, "300x250"))
	assert.Equal(t, "", Resolve(map[string]any{"__728x90__": "wide"}, "300x250"))
	assert.Equal(t, "", Resolve(map[string]any{"default": nil}, "300x250"))
}
