// Package schema compiles OpenAPI route schemas into request and response
// validators.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// annotation keys carry no validation meaning in draft 4 and are dropped.
var annotationKeys = map[string]bool{
	"example":       true,
	"examples":      true,
	"xml":           true,
	"externalDocs":  true,
	"discriminator": true,
	"readOnly":      true,
	"writeOnly":     true,
	"deprecated":    true,
	"$schema":       true,
	"nullable":      true,
}

// schemaMapKeys hold a map of name to schema rather than a schema.
var schemaMapKeys = map[string]bool{
	"properties":        true,
	"patternProperties": true,
	"definitions":       true,
}

// dataKeys hold instance data rather than schemas.
var dataKeys = map[string]bool{
	"enum":    true,
	"default": true,
	"const":   true,
}

type prepareOptions struct {
	isV2 bool
	// lowerNames lower-cases property names and required entries of the
	// root object, for header schemas.
	lowerNames bool
}

// Prepare returns a draft-4 compatible deep copy of an OpenAPI schema.
// Back-edges of circular structures and values that cannot be serialized
// are replaced by the empty schema. OAS2 and OAS3 dialect differences
// (nullable, file types, numeric exclusive bounds) are reconciled.
func Prepare(schema map[string]any, isV2 bool) map[string]any {
	return prepare(schema, prepareOptions{isV2: isV2})
}

func prepare(schema map[string]any, opts prepareOptions) map[string]any {
	if schema == nil {
		return nil
	}
	p := &preparer{opts: opts, visiting: make(map[uintptr]bool)}
	out, ok := p.schema(schema).(map[string]any)
	if !ok {
		return map[string]any{}
	}
	if opts.lowerNames {
		lowerNames(out)
	}
	return out
}

type preparer struct {
	opts     prepareOptions
	visiting map[uintptr]bool
}

// enter marks a container as being copied. It returns false for a
// back-edge.
func (p *preparer) enter(v any) (uintptr, bool) {
	id := reflect.ValueOf(v).Pointer()
	if p.visiting[id] {
		return id, false
	}
	p.visiting[id] = true
	return id, true
}

func (p *preparer) schema(v any) any {
	m, ok := asMap(v)
	if !ok {
		// Draft 4 schemas are objects; booleans and junk accept anything.
		return map[string]any{}
	}
	id, ok := p.enter(v)
	if !ok {
		return map[string]any{}
	}
	defer delete(p.visiting, id)

	out := make(map[string]any, len(m))
	for k, child := range m {
		switch {
		case strings.HasPrefix(k, "x-"), annotationKeys[k]:
			continue
		case schemaMapKeys[k]:
			out[k] = p.schemaMap(child)
		case dataKeys[k]:
			if d, ok := p.data(child); ok {
				out[k] = d
			}
		case k == "items":
			if list, ok := child.([]any); ok {
				out[k] = p.schemaList(list)
			} else {
				out[k] = p.schema(child)
			}
		case k == "allOf", k == "anyOf", k == "oneOf":
			if list, ok := child.([]any); ok {
				out[k] = p.schemaList(list)
			}
		case k == "not":
			out[k] = p.schema(child)
		case k == "additionalProperties", k == "additionalItems":
			if _, isBool := child.(bool); isBool {
				out[k] = child
			} else {
				out[k] = p.schema(child)
			}
		default:
			if d, ok := p.data(child); ok {
				out[k] = d
			}
		}
	}

	p.reconcile(m, out)
	return out
}

func (p *preparer) schemaMap(v any) any {
	m, ok := asMap(v)
	if !ok {
		return map[string]any{}
	}
	id, ok := p.enter(v)
	if !ok {
		return map[string]any{}
	}
	defer delete(p.visiting, id)

	out := make(map[string]any, len(m))
	for name, child := range m {
		out[name] = p.schema(child)
	}
	return out
}

func (p *preparer) schemaList(list []any) []any {
	out := make([]any, 0, len(list))
	for _, child := range list {
		out = append(out, p.schema(child))
	}
	return out
}

// data copies instance data, dropping values that cannot be serialized.
func (p *preparer) data(v any) (any, bool) {
	switch t := v.(type) {
	case nil, string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return t, true
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if d, ok := p.data(item); ok {
				out = append(out, d)
			}
		}
		return out, true
	}

	m, ok := asMap(v)
	if !ok {
		return nil, false
	}
	id, ok := p.enter(v)
	if !ok {
		return nil, false
	}
	defer delete(p.visiting, id)

	out := make(map[string]any, len(m))
	for k, child := range m {
		if d, ok := p.data(child); ok {
			out[k] = d
		}
	}
	return out, true
}

// reconcile rewrites dialect-specific keywords of src into out.
func (p *preparer) reconcile(src, out map[string]any) {
	nullable := src["nullable"] == true || src["x-nullable"] == true
	if t, ok := out["type"].(string); ok && t == "file" {
		delete(out, "type")
		delete(out, "format")
	}
	if nullable {
		switch t := out["type"].(type) {
		case string:
			out["type"] = []any{t, "null"}
		case []any:
			if !containsValue(t, "null") {
				out["type"] = append(t, "null")
			}
		}
		if enum, ok := out["enum"].([]any); ok && !containsValue(enum, nil) {
			out["enum"] = append(enum, nil)
		}
	}

	for _, bound := range []struct{ exclusive, inclusive string }{
		{"exclusiveMinimum", "minimum"},
		{"exclusiveMaximum", "maximum"},
	} {
		v, ok := out[bound.exclusive]
		if !ok {
			continue
		}
		if _, isBool := v.(bool); isBool {
			continue
		}
		if isNumber(v) {
			out[bound.inclusive] = v
			out[bound.exclusive] = true
		} else {
			delete(out, bound.exclusive)
		}
	}
}

func lowerNames(schema map[string]any) {
	if props, ok := schema["properties"].(map[string]any); ok {
		lowered := make(map[string]any, len(props))
		for name, s := range props {
			lowered[strings.ToLower(name)] = s
		}
		schema["properties"] = lowered
	}
	if req, ok := schema["required"].([]any); ok {
		lowered := make([]any, len(req))
		for i, name := range req {
			if s, ok := name.(string); ok {
				lowered[i] = strings.ToLower(s)
			} else {
				lowered[i] = name
			}
		}
		schema["required"] = lowered
	}
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, t != nil
	case map[any]any:
		if t == nil {
			return nil, false
		}
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[fmt.Sprint(k)] = child
		}
		return out, true
	}
	return nil, false
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return true
	}
	return false
}
