package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Compiler compiles prepared schemas and caches the result by the identity
// of the source schema. It is safe for concurrent use.
type Compiler struct {
	mu    sync.Mutex
	cache map[cacheKey]*Schema
	seq   int
}

type cacheKey struct {
	ptr  uintptr
	opts prepareOptions
}

// NewCompiler creates an empty compiler.
func NewCompiler() *Compiler {
	return &Compiler{cache: make(map[cacheKey]*Schema)}
}

// Schema is a compiled validator for one schema.
type Schema struct {
	// source pins the identity the cache is keyed by.
	source   map[string]any
	compiled *jsonschema.Schema
}

// Compile compiles s in the given dialect. Compiling the same map twice
// returns the cached validator.
func (c *Compiler) Compile(s map[string]any, isV2 bool) (*Schema, error) {
	return c.compile(s, prepareOptions{isV2: isV2})
}

func (c *Compiler) compile(s map[string]any, opts prepareOptions) (*Schema, error) {
	if s == nil {
		return nil, nil
	}
	key := cacheKey{ptr: reflect.ValueOf(s).Pointer(), opts: opts}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.cache[key]; ok {
		return cached, nil
	}

	doc, err := json.Marshal(prepare(s, opts))
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	c.seq++
	url := fmt.Sprintf("mem://oapipe/schema/%d.json", c.seq)

	jc := jsonschema.NewCompiler()
	jc.Draft = jsonschema.Draft4
	if err := jc.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := jc.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	out := &Schema{source: s, compiled: compiled}
	c.cache[key] = out
	return out, nil
}

// Len returns the number of cached validators.
func (c *Compiler) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}
