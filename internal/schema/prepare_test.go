package schema

import (
	"reflect"
	"testing"
)

func TestPrepare_Dialects(t *testing.T) {
	tests := []struct {
		name  string
		isV2  bool
		input map[string]any
		want  map[string]any
	}{
		{
			name:  "oas3 nullable",
			input: map[string]any{"type": "string", "nullable": true},
			want:  map[string]any{"type": []any{"string", "null"}},
		},
		{
			name:  "oas2 x-nullable",
			isV2:  true,
			input: map[string]any{"type": "integer", "x-nullable": true},
			want:  map[string]any{"type": []any{"integer", "null"}},
		},
		{
			name:  "nullable enum admits null",
			input: map[string]any{"type": "string", "enum": []any{"a"}, "nullable": true},
			want:  map[string]any{"type": []any{"string", "null"}, "enum": []any{"a", nil}},
		},
		{
			name:  "oas2 file",
			isV2:  true,
			input: map[string]any{"type": "file", "format": "binary"},
			want:  map[string]any{},
		},
		{
			name:  "numeric exclusive bounds",
			input: map[string]any{"type": "number", "exclusiveMinimum": 1.0, "exclusiveMaximum": 10.0},
			want: map[string]any{
				"type":             "number",
				"minimum":          1.0,
				"exclusiveMinimum": true,
				"maximum":          10.0,
				"exclusiveMaximum": true,
			},
		},
		{
			name:  "boolean exclusive bounds untouched",
			isV2:  true,
			input: map[string]any{"minimum": 1.0, "exclusiveMinimum": true},
			want:  map[string]any{"minimum": 1.0, "exclusiveMinimum": true},
		},
		{
			name: "annotations dropped, property names kept",
			input: map[string]any{
				"type":         "object",
				"example":      map[string]any{"x": 1},
				"xml":          map[string]any{"name": "pet"},
				"x-internal":   true,
				"externalDocs": map[string]any{"url": "https://example.com"},
				"properties": map[string]any{
					"example": map[string]any{"type": "string", "readOnly": true},
				},
			},
			want: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"example": map[string]any{"type": "string"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Prepare(tt.input, tt.isV2)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Prepare() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestPrepare_BreaksCycles(t *testing.T) {
	node := map[string]any{"type": "object"}
	node["properties"] = map[string]any{"child": node}

	got := Prepare(node, false)
	props := got["properties"].(map[string]any)
	if !reflect.DeepEqual(props["child"], map[string]any{}) {
		t.Errorf("expected back-edge to become the empty schema, got %#v", props["child"])
	}
}

func TestPrepare_DropsUnserializableData(t *testing.T) {
	got := Prepare(map[string]any{
		"type":    "string",
		"default": func() {},
		"title":   "name",
	}, false)

	if _, ok := got["default"]; ok {
		t.Error("expected func default to be dropped")
	}
	if got["title"] != "name" {
		t.Errorf("expected title to be kept, got %v", got["title"])
	}
}

func TestPrepare_DoesNotMutateSource(t *testing.T) {
	src := map[string]any{"type": "string", "nullable": true}
	Prepare(src, false)
	if src["type"] != "string" || src["nullable"] != true {
		t.Errorf("source mutated: %#v", src)
	}
}
