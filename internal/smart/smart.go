// Package smart resolves field values that vary by creative size.
//
// A smart object is a map keyed by "__<size>__" with an optional "default"
// entry. Any other value is a plain scalar and is passed through untouched.
package smart

import (
	"strings"
)

// DefaultKey is the fallback entry of a smart object.
const DefaultKey = "default"

// SizeKey returns the smart object key for a creative size.
func SizeKey(size string) string {
	if size == "" {
		return DefaultKey
	}
	return "__" + size + "__"
}

// Resolve picks the value for size out of a smart object. The lookup has
// exactly two levels of fallback: the size key, then "default", then "".
func Resolve(value any, size string) any {
	obj, ok := value.(map[string]any)
	if !ok {
		return value
	}
	if v, ok := obj[SizeKey(size)]; ok && v != nil {
		return v
	}
	if v, ok := obj[DefaultKey]; ok && v != nil {
		return v
	}
	return ""
}

// ResolveAll resolves every field of a field map against size.
func ResolveAll(fields map[string]any, size string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = Resolve(v, size)
	}
	return out
}

// FixBooleans turns "true"/"false" strings (any case) into bools. Editors
// sometimes send booleans as strings.
func FixBooleans(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}

// SizeOf reads the "size" field as a string, or "" when absent.
func SizeOf(fields map[string]any) string {
	if s, ok := fields["size"].(string); ok {
		return s
	}
	return ""
}
