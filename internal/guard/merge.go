package guard

// DeepMerge returns a new document with override applied over base. Nested
// objects present on both sides merge recursively; any other override
// value replaces the base value. Neither input is modified.
func DeepMerge(base, override map[string]any) map[string]any {
	out := Clone(base)
	if out == nil {
		out = make(map[string]any, len(override))
	}
	for k, v := range override {
		existing, hasExisting := out[k].(map[string]any)
		incoming, isObject := v.(map[string]any)
		if hasExisting && isObject {
			out[k] = DeepMerge(existing, incoming)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Clone deep-copies the objects and arrays of a document. Scalars are shared.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
