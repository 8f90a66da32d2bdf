package telemetry

import (
	"encoding/json"
	"fmt"
	"sort"
)

// FlattenObject turns a nested object into a flat map of dotted keys to string
// values, the shape shield-study-addon attributes require.
//
// Nested objects are descended and their keys joined with ".". String leaves
// are kept; numbers, booleans and arrays become their JSON text; nil leaves are
// dropped. A map[string]string is returned unchanged, as is anything that is
// not an object (arrays, primitives).
func FlattenObject(v any) any {
	switch obj := v.(type) {
	case map[string]string:
		return obj
	case map[string]any:
		return Flatten(obj)
	default:
		return v
	}
}

// Flatten is FlattenObject for a known object.
func Flatten(obj map[string]any) map[string]string {
	out := make(map[string]string, len(obj))
	flattenInto(out, "", obj)
	return out
}

func flattenInto(out map[string]string, prefix string, obj map[string]any) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		switch val := obj[k].(type) {
		case nil:
		case map[string]any:
			flattenInto(out, key, val)
		case map[string]string:
			for sk, sv := range val {
				out[key+"."+sk] = sv
			}
		case string:
			out[key] = val
		default:
			out[key] = stringifyLeaf(val)
		}
	}
}

func stringifyLeaf(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
