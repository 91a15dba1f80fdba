// Package openapi turns already-dereferenced OpenAPI 2.0 and 3.x documents
// into routes.
package openapi

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/core/ports"
	"github.com/tjfontaine/oapipe/internal/schema"
)

var methods = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// v2 parameter keys that are not part of the value schema.
var parameterMeta = map[string]bool{
	"name":             true,
	"in":               true,
	"required":         true,
	"description":      true,
	"collectionFormat": true,
	"allowEmptyValue":  true,
}

// Parser is the default ports.Parser. It performs no I/O and does not
// resolve $ref.
type Parser struct{}

var _ ports.Parser = (*Parser)(nil)

// NewParser returns a Parser.
func NewParser() *Parser { return &Parser{} }

// Decode decodes a JSON or YAML document. Non-string mapping keys, such as
// unquoted YAML status codes, are converted to strings.
func Decode(data []byte) (map[string]any, error) {
	doc, err := yaml.Parser().Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return stringKeys(doc).(map[string]any), nil
}

func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = stringKeys(e)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = stringKeys(e)
		}
		return m
	case []any:
		for i, e := range t {
			t[i] = stringKeys(e)
		}
		return t
	default:
		return v
	}
}

// Load reads and decodes the document at path.
func Load(path string) (map[string]any, error) {
	b, err := file.Provider(path).ReadBytes()
	if err != nil {
		return nil, err
	}
	doc, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

// Routes runs p over document and wraps any failure in a single
// *domain.ParseError.
func Routes(ctx context.Context, p ports.Parser, source string, document map[string]any) (*domain.ParseResult, error) {
	res, err := p.Parse(ctx, document)
	if err != nil {
		var pe *domain.ParseError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, &domain.ParseError{Source: source, Err: err}
	}
	return res, nil
}

// Parse extracts one route per operation, in path then method order.
func (p *Parser) Parse(ctx context.Context, document map[string]any) (*domain.ParseResult, error) {
	isV2, err := dialect(document)
	if err != nil {
		return nil, err
	}

	paths, ok := asMap(document["paths"])
	if !ok {
		return nil, errors.New("document has no paths object")
	}
	basePath := ""
	if isV2 {
		basePath, _ = document["basePath"].(string)
		basePath = strings.TrimSuffix(basePath, "/")
	}

	var routes []domain.Route
	for _, path := range slices.Sorted(maps.Keys(paths)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, ok := asMap(paths[path])
		if !ok {
			return nil, fmt.Errorf("path %s is not an object", path)
		}
		shared, _ := item["parameters"].([]any)

		for _, method := range methods {
			op, ok := asMap(item[method])
			if !ok {
				continue
			}
			route, err := buildRoute(method, basePath+path, shared, op, isV2)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", strings.ToUpper(method), path, err)
			}
			routes = append(routes, route)
		}
	}
	return &domain.ParseResult{Routes: routes, IsV2: isV2}, nil
}

func dialect(document map[string]any) (bool, error) {
	if v, ok := document["swagger"].(string); ok {
		if strings.HasPrefix(v, "2.") {
			return true, nil
		}
		return false, fmt.Errorf("unsupported swagger version %q", v)
	}
	if v, ok := document["openapi"].(string); ok {
		if strings.HasPrefix(v, "3.") {
			return false, nil
		}
		return false, fmt.Errorf("unsupported openapi version %q", v)
	}
	return false, errors.New("document declares neither swagger nor openapi version")
}

// objectSchema accumulates named properties of one request section.
type objectSchema struct {
	properties map[string]any
	required   []any
}

func (o *objectSchema) add(name string, s map[string]any, required bool) {
	if o.properties == nil {
		o.properties = make(map[string]any)
	}
	o.properties[name] = s
	if required {
		o.required = append(o.required, name)
	}
}

func (o *objectSchema) schema() map[string]any {
	if o.properties == nil {
		return nil
	}
	s := map[string]any{"type": "object", "properties": o.properties}
	if len(o.required) > 0 {
		s["required"] = o.required
	}
	return s
}

func buildRoute(method, url string, shared []any, op map[string]any, isV2 bool) (domain.Route, error) {
	id, _ := op["operationId"].(string)
	if id == "" {
		id = method + url
	}

	var params, query, headers, form objectSchema
	rs := domain.RouteSchema{}

	for _, p := range mergeParameters(shared, op["parameters"]) {
		name, _ := p["name"].(string)
		in, _ := p["in"].(string)
		required, _ := p["required"].(bool)

		switch in {
		case "path":
			params.add(name, parameterSchema(p, isV2), true)
		case "query":
			query.add(name, parameterSchema(p, isV2), required)
		case "header":
			headers.add(name, parameterSchema(p, isV2), required)
		case "formData":
			form.add(name, parameterSchema(p, isV2), required)
		case "body":
			s, _ := asMap(p["schema"])
			rs.Body = s
			rs.BodyRequired = required
		case "cookie":
			// not validated
		default:
			return domain.Route{}, fmt.Errorf("parameter %q has unknown location %q", name, in)
		}
	}
	rs.Params = params.schema()
	rs.Querystring = query.schema()
	rs.Headers = headers.schema()
	if s := form.schema(); s != nil && rs.Body == nil {
		rs.Body = s
		rs.BodyRequired = len(form.required) > 0
	}

	if !isV2 {
		if body, ok := asMap(op["requestBody"]); ok {
			rs.Body = contentSchema(body["content"])
			rs.BodyRequired, _ = body["required"].(bool)
		}
	}

	if responses, ok := asMap(op["responses"]); ok {
		for code, r := range responses {
			resp, ok := asMap(r)
			if !ok {
				continue
			}
			var s map[string]any
			if isV2 {
				s, _ = asMap(resp["schema"])
			} else {
				s = contentSchema(resp["content"])
			}
			if s == nil {
				continue
			}
			if rs.Responses == nil {
				rs.Responses = make(map[string]map[string]any)
			}
			rs.Responses[code] = s
		}
	}

	return domain.Route{
		OperationID:   id,
		Method:        strings.ToUpper(method),
		URL:           url,
		Schema:        rs,
		OpenAPISource: op,
		IsV2:          isV2,
	}, nil
}

// mergeParameters returns path-level parameters overridden by operation
// parameters with the same name and location.
func mergeParameters(shared []any, own any) []map[string]any {
	ownList, _ := own.([]any)
	var out []map[string]any
	index := make(map[string]int)
	for _, list := range [][]any{shared, ownList} {
		for _, raw := range list {
			p, ok := asMap(raw)
			if !ok {
				continue
			}
			key := fmt.Sprintf("%v:%v", p["in"], p["name"])
			if i, ok := index[key]; ok {
				out[i] = p
				continue
			}
			index[key] = len(out)
			out = append(out, p)
		}
	}
	return out
}

func parameterSchema(p map[string]any, isV2 bool) map[string]any {
	if !isV2 {
		if s, ok := asMap(p["schema"]); ok {
			return s
		}
		return map[string]any{}
	}
	s := make(map[string]any, len(p))
	for k, v := range p {
		if !parameterMeta[k] {
			s[k] = v
		}
	}
	return s
}

// contentSchema picks the schema of the JSON media type of an OAS3
// content map.
func contentSchema(v any) map[string]any {
	content, ok := asMap(v)
	if !ok {
		return nil
	}
	if media, ok := asMap(content["application/json"]); ok {
		s, _ := asMap(media["schema"])
		return s
	}
	for _, mt := range slices.Sorted(maps.Keys(content)) {
		if !schema.IsJSONMediaType(mt) {
			continue
		}
		if media, ok := asMap(content[mt]); ok {
			s, _ := asMap(media["schema"])
			return s
		}
	}
	return nil
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
