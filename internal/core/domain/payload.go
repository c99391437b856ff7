package domain

// Payload is an opaque structured value carried by events and jobs.
// Providers send arbitrary JSON; each component validates only the fields it
// actually reads.
type Payload map[string]any

// String returns the named field as a string, or "" when absent or not a
// string.
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// Int64 returns the named field as an int64. JSON numbers decode as float64,
// so both representations are accepted.
func (p Payload) Int64(key string) int64 {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
