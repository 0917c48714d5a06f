package dagflow

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Config is the configuration mapping consulted when variant nodes are
// selected. It is read-only once handed to a registry or driver.
type Config map[string]any

// Get returns the raw value stored under key.
func (c Config) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// Equal reports whether the value stored under key equals want. Values are
// compared in want's terms, so "true", true and 1 all equal a bool true and
// "3" equals the number 3.
func (c Config) Equal(key string, want any) bool {
	got, ok := c[key]
	if !ok {
		return false
	}
	return valuesEqual(got, want)
}

// Clone returns a copy that can be mutated independently.
func (c Config) Clone() Config {
	cp := make(Config, len(c))
	for k, v := range c {
		cp[k] = v
	}
	return cp
}

// Keys returns the configuration keys in sorted order.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Predicate decides whether a variant node is active for a configuration.
type Predicate interface {
	Match(cfg Config) bool
	String() string
}

type predicate struct {
	desc  string
	match func(Config) bool
}

func (p predicate) Match(cfg Config) bool { return p.match(cfg) }
func (p predicate) String() string        { return p.desc }

// When is active only when key is present and equals value.
func When(key string, value any) Predicate {
	return predicate{
		desc:  fmt.Sprintf("%s == %v", key, value),
		match: func(cfg Config) bool { return cfg.Equal(key, value) },
	}
}

// WhenNot is active when key is absent or does not equal value.
func WhenNot(key string, value any) Predicate {
	return predicate{
		desc:  fmt.Sprintf("%s != %v", key, value),
		match: func(cfg Config) bool { return !cfg.Equal(key, value) },
	}
}

// WhenIn is active when key equals any of values.
func WhenIn(key string, values ...any) Predicate {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprint(v))
	}
	return predicate{
		desc: fmt.Sprintf("%s in [%s]", key, strings.Join(parts, ", ")),
		match: func(cfg Config) bool {
			for _, v := range values {
				if cfg.Equal(key, v) {
					return true
				}
			}
			return false
		},
	}
}

// WhenAll is active when every one of preds is.
func WhenAll(preds ...Predicate) Predicate {
	parts := make([]string, 0, len(preds))
	for _, p := range preds {
		parts = append(parts, p.String())
	}
	return predicate{
		desc: strings.Join(parts, " && "),
		match: func(cfg Config) bool {
			for _, p := range preds {
				if !p.Match(cfg) {
					return false
				}
			}
			return true
		},
	}
}

func valuesEqual(got, want any) bool {
	switch w := want.(type) {
	case bool:
		b, ok := asBool(got)
		return ok && b == w
	case string:
		return fmt.Sprint(got) == w
	}
	if wf, ok := asFloat(want); ok {
		gf, ok := asFloat(got)
		return ok && gf == wf
	}
	return reflect.DeepEqual(got, want)
}

func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return b, err == nil
	}
	if f, ok := asFloat(v); ok {
		return f != 0, true
	}
	return false, false
}

func asFloat(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || !isNumeric(rv.Kind()) {
		return 0, false
	}
	return rv.Convert(reflect.TypeOf(float64(0))).Float(), true
}
