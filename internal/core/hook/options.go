package hook

// Options carries the per-binding configuration a factory instantiates a
// handler with. Values come from persisted hook bindings (JSON) or from
// code, so accessors tolerate both representations.
type Options map[string]any

// String returns a string option, or the fallback when absent
func (o Options) String(key, fallback string) string {
	if v, ok := o[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Bool returns a boolean option, or the fallback when absent
func (o Options) Bool(key string, fallback bool) bool {
	if v, ok := o[key].(bool); ok {
		return v
	}
	return fallback
}

// Strings returns a string-slice option. JSON decoding yields []any, so
// both forms are accepted.
func (o Options) Strings(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
