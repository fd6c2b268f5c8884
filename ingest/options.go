package ingest

import (
	"strconv"
)

// Options resolves typed values out of an instance's option map.
// JSON-decoded maps carry numbers as float64 and sometimes strings;
// the resolvers coerce where lossless and fall back to the default.
type Options struct {
	values map[string]any
}

// NewOptions wraps an option map; nil is treated as empty.
func NewOptions(values map[string]any) *Options {
	return &Options{values: values}
}

// ResolveString returns the option as a string or def when absent.
func (o *Options) ResolveString(key, def string) string {
	if o == nil || o.values == nil {
		return def
	}
	v, ok := o.values[key]
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// ResolveInt returns the option as an int, coercing float64 and
// numeric strings.
func (o *Options) ResolveInt(key string, def int) int {
	if o == nil || o.values == nil {
		return def
	}
	v, ok := o.values[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return def
}

// ResolveBool returns the option as a bool, coercing "true"/"false".
func (o *Options) ResolveBool(key string, def bool) bool {
	if o == nil || o.values == nil {
		return def
	}
	v, ok := o.values[key]
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return def
}
