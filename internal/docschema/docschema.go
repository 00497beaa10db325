// Package docschema validates shared documents against their JSON schemas.
//
// Schemas are intentionally permissive about presence: partial updates carry
// only the fields they change, so no property is required. They are strict
// about shape: a field that is present must have the declared type.
package docschema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

var (
	compileOnce sync.Once
	compiled    map[domain.DocumentKind]*jsonschema.Schema
	compileErr  error
)

func load() (map[domain.DocumentKind]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[domain.DocumentKind]*jsonschema.Schema, len(sources))
		c := jsonschema.NewCompiler()
		for kind, src := range sources {
			var doc any
			if err := json.Unmarshal([]byte(src), &doc); err != nil {
				compileErr = fmt.Errorf("unmarshal %s schema: %w", kind, err)
				return
			}
			if err := c.AddResource(resourceURL(kind), doc); err != nil {
				compileErr = fmt.Errorf("add %s schema: %w", kind, err)
				return
			}
		}
		for kind := range sources {
			sch, err := c.Compile(resourceURL(kind))
			if err != nil {
				compileErr = fmt.Errorf("compile %s schema: %w", kind, err)
				return
			}
			compiled[kind] = sch
		}
	})
	return compiled, compileErr
}

func resourceURL(kind domain.DocumentKind) string {
	return string(kind) + ".json"
}

// Validate checks a decoded document (as produced by json.Unmarshal into
// any) against the schema of kind.
func Validate(kind domain.DocumentKind, doc any) error {
	schemas, err := load()
	if err != nil {
		return err
	}
	sch, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("no schema for document kind %q", kind)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	return nil
}

// ValidateJSON decodes raw and validates it. It returns the decoded object.
func ValidateJSON(kind domain.DocumentKind, raw []byte) (map[string]any, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%s: invalid JSON: %w", kind, err)
	}
	if err := Validate(kind, doc); err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: document must be an object", kind)
	}
	return obj, nil
}
