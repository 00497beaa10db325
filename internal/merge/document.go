package merge

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Document is a decoded JSON object. Values are the types produced by
// encoding/json when unmarshaling into any.
type Document map[string]any

// FromJSON decodes raw into a document.
func FromJSON(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("merge: document is null")
	}
	return doc, nil
}

// FromValue converts a struct or map into a document through its JSON form.
func FromValue(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return FromJSON(raw)
}

// Decode unmarshals the document into v.
func (d Document) Decode(v any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Get returns the value at a dotted path.
func (d Document) Get(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores v at a dotted path, creating intermediate objects. A non-object
// value in the way is replaced.
func (d Document) Set(path string, v any) {
	parts := strings.Split(path, ".")
	obj := map[string]any(d)
	for _, part := range parts[:len(parts)-1] {
		next, ok := obj[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			obj[part] = next
		}
		obj = next
	}
	obj[parts[len(parts)-1]] = v
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

// Only returns a document holding just the given paths, where present.
func (d Document) Only(paths ...string) Document {
	out := Document{}
	for _, p := range paths {
		if v, ok := d.Get(p); ok {
			out.Set(p, cloneValue(v))
		}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case Document:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// normalize round-trips a document through JSON so values compare and
// validate uniformly regardless of how the caller built them.
func normalize(d Document) (Document, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = Document{}
	}
	return out, nil
}

func equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
