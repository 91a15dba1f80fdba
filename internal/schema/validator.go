package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tjfontaine/oapipe/internal/core/domain"
)

// Request sections in validation order.
const (
	LocationParams   = "params"
	LocationBody     = "body"
	LocationQuery    = "query"
	LocationHeaders  = "headers"
	LocationResponse = "response"
)

// Validate checks instance against the schema and returns the violations,
// normalized for location. A nil slice means the instance is valid.
func (s *Schema) Validate(instance any, location string) ([]domain.FieldError, error) {
	v, err := canonical(instance)
	if err != nil {
		return nil, err
	}
	if err := s.compiled.Validate(v); err != nil {
		return fieldErrors(err, location), nil
	}
	return nil, nil
}

// canonical round-trips v through encoding/json so that structs, typed maps
// and Go numbers validate the way their JSON form would.
func canonical(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, json.Number:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode instance: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode instance: %w", err)
	}
	return out, nil
}

func fieldErrors(err error, location string) []domain.FieldError {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []domain.FieldError{{
			Location:  location,
			Message:   err.Error(),
			ErrorCode: "invalid",
		}}
	}

	var out []domain.FieldError
	seen := make(map[domain.FieldError]bool)
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, cause := range e.Causes {
				walk(cause)
			}
			return
		}
		add := func(fe domain.FieldError) {
			if !seen[fe] {
				seen[fe] = true
				out = append(out, fe)
			}
		}
		path, code := dottedPath(e.InstanceLocation), keyword(e.KeywordLocation)
		if code == "required" {
			if names := missingProperties(e.Message); len(names) > 0 {
				for _, name := range names {
					add(domain.FieldError{
						Path:      joinPath(path, name),
						Location:  location,
						Message:   "missing property " + name,
						ErrorCode: code,
					})
				}
				return
			}
		}
		add(domain.FieldError{
			Path:      path,
			Location:  location,
			Message:   e.Message,
			ErrorCode: code,
		})
	}
	walk(ve)
	return out
}

// quotedName matches one 'name' of a "missing properties" message.
var quotedName = regexp.MustCompile(`'((?:[^'\\]|\\.)*)'`)

// missingProperties extracts the property names of a required violation,
// reported as "missing properties: 'a', 'b'".
func missingProperties(message string) []string {
	_, list, ok := strings.Cut(message, "missing properties: ")
	if !ok {
		return nil
	}
	var names []string
	for _, m := range quotedName.FindAllStringSubmatch(list, -1) {
		name := strings.ReplaceAll(m[1], `\'`, `'`)
		if u, err := strconv.Unquote(`"` + strings.ReplaceAll(name, `"`, `\"`) + `"`); err == nil {
			name = u
		}
		names = append(names, name)
	}
	return names
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// dottedPath turns a JSON pointer into a dotted path.
func dottedPath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}
	tokens := strings.Split(pointer, "/")
	for i, t := range tokens {
		t = strings.ReplaceAll(t, "~1", "/")
		tokens[i] = strings.ReplaceAll(t, "~0", "~")
	}
	return strings.Join(tokens, ".")
}

// keyword returns the last token of a keyword location.
func keyword(location string) string {
	if i := strings.LastIndex(location, "/"); i >= 0 {
		location = location[i+1:]
	}
	if location == "" {
		return "schema"
	}
	return location
}

// IsJSONMediaType reports whether a content type denotes JSON.
func IsJSONMediaType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// Options configures operation validators.
type Options struct {
	// RequestStatusCode is carried by request validation errors. Zero means
	// domain.DefaultRequestValidationStatus.
	RequestStatusCode int
}

// OperationValidators are the compiled request and response checkers of one
// operation.
type OperationValidators struct {
	operationID   string
	params        *Schema
	body          *Schema
	query         *Schema
	headers       *Schema
	bodyRequired  bool
	responses     map[string]*Schema
	requestStatus int
}

// CompileOperation compiles every schema of route.
func (c *Compiler) CompileOperation(route domain.Route, opts Options) (*OperationValidators, error) {
	rs := route.Schema
	v := &OperationValidators{
		operationID:   route.OperationID,
		bodyRequired:  rs.BodyRequired,
		responses:     make(map[string]*Schema, len(rs.Responses)),
		requestStatus: opts.RequestStatusCode,
	}
	if v.requestStatus == 0 {
		v.requestStatus = domain.DefaultRequestValidationStatus
	}

	sections := []struct {
		name   string
		schema map[string]any
		opts   prepareOptions
		dst    **Schema
	}{
		{LocationParams, rs.Params, prepareOptions{isV2: route.IsV2}, &v.params},
		{LocationBody, rs.Body, prepareOptions{isV2: route.IsV2}, &v.body},
		{LocationQuery, rs.Querystring, prepareOptions{isV2: route.IsV2}, &v.query},
		{LocationHeaders, rs.Headers, prepareOptions{isV2: route.IsV2, lowerNames: true}, &v.headers},
	}
	for _, s := range sections {
		if len(s.schema) == 0 {
			continue
		}
		compiled, err := c.compile(s.schema, s.opts)
		if err != nil {
			return nil, fmt.Errorf("operation %s %s schema: %w", route.OperationID, s.name, err)
		}
		*s.dst = compiled
	}

	for status, schema := range rs.Responses {
		if len(schema) == 0 {
			continue
		}
		compiled, err := c.compile(schema, prepareOptions{isV2: route.IsV2})
		if err != nil {
			return nil, fmt.Errorf("operation %s response %s schema: %w", route.OperationID, status, err)
		}
		v.responses[strings.ToUpper(status)] = compiled
	}

	return v, nil
}

// ValidateRequest checks params, body, query and headers in that order and
// stops at the first failing section.
func (v *OperationValidators) ValidateRequest(req *domain.Request) error {
	if req == nil {
		req = &domain.Request{}
	}

	sections := []struct {
		name   string
		schema *Schema
		value  any
		skip   bool
	}{
		{name: LocationParams, schema: v.params, value: orEmpty(req.Params)},
		{name: LocationBody, schema: v.body, value: req.Body, skip: req.Body == nil && !v.bodyRequired},
		{name: LocationQuery, schema: v.query, value: orEmpty(req.Query)},
		{name: LocationHeaders, schema: v.headers, value: normalizeHeaders(req.Headers)},
	}
	for _, s := range sections {
		if s.schema == nil || s.skip {
			continue
		}
		errs, err := s.schema.Validate(s.value, s.name)
		if err != nil {
			return fmt.Errorf("validate %s of %s: %w", s.name, v.operationID, err)
		}
		if len(errs) > 0 {
			return domain.NewRequestValidationError(v.requestStatus, errs)
		}
	}
	return nil
}

// ValidateResponse checks resp against the schema of statusCode, falling
// back to the status range ("2XX") and then "default". A zero statusCode
// uses resp.StatusCode, then 200. Non-JSON responses are not validated.
func (v *OperationValidators) ValidateResponse(resp *domain.Response, statusCode int) error {
	if resp == nil {
		return nil
	}
	if statusCode == 0 {
		statusCode = resp.StatusCode
	}
	if statusCode == 0 {
		statusCode = 200
	}

	s := v.ResponseSchema(statusCode)
	if s == nil {
		return nil
	}
	if ct := resp.ContentType(); ct != "" && !IsJSONMediaType(ct) {
		return nil
	}

	errs, err := s.Validate(resp.Body, LocationResponse)
	if err != nil {
		return fmt.Errorf("validate response of %s: %w", v.operationID, err)
	}
	if len(errs) > 0 {
		return domain.NewResponseValidationError(resp.Body, errs)
	}
	return nil
}

// ResponseSchema resolves the schema for statusCode.
func (v *OperationValidators) ResponseSchema(statusCode int) *Schema {
	code := strconv.Itoa(statusCode)
	if s, ok := v.responses[code]; ok {
		return s
	}
	if len(code) == 3 {
		if s, ok := v.responses[code[:1]+"XX"]; ok {
			return s
		}
	}
	return v.responses["DEFAULT"]
}

// HasRequestSchema reports whether any request section is validated.
func (v *OperationValidators) HasRequestSchema() bool {
	return v.params != nil || v.body != nil || v.query != nil || v.headers != nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// normalizeHeaders lower-cases names and unwraps single-valued lists.
func normalizeHeaders(h map[string]any) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		if vs, ok := v.([]string); ok && len(vs) == 1 {
			v = vs[0]
		}
		out[strings.ToLower(k)] = v
	}
	return out
}
