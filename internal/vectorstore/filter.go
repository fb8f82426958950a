package vectorstore

// NormalizeFilter drops absent/null values and canonicalizes the rest:
// list values stay as ANY-of lists, scalars become equality matches.
// Returns nil when nothing survives.
func NormalizeFilter(filter map[string]any) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	out := make(map[string]any, len(filter))
	for k, v := range filter {
		if k == "" || v == nil {
			continue
		}
		switch vv := v.(type) {
		case []any:
			var values []any
			for _, item := range vv {
				if item != nil {
					values = append(values, item)
				}
			}
			if len(values) > 0 {
				out[k] = values
			}
		case []string:
			if len(vv) > 0 {
				values := make([]any, len(vv))
				for i, s := range vv {
					values[i] = s
				}
				out[k] = values
			}
		default:
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
