package utils

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
)

// envRef matches ${NAME} and ${NAME:-fallback}
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// EnvExpander substitutes ${VAR} references in configuration values.
// Only variables matching an allow-list pattern are read; other references
// are left verbatim so Unresolved can report them.
type EnvExpander struct {
	allowed []string
	lookup  func(string) (string, bool)
}

// NewEnvExpander allows the given names or glob patterns, e.g. "GITHUB_*"
func NewEnvExpander(allowed []string) *EnvExpander {
	return &EnvExpander{allowed: allowed, lookup: os.LookupEnv}
}

// WithLookup replaces the environment source
func (e *EnvExpander) WithLookup(lookup func(string) (string, bool)) *EnvExpander {
	e.lookup = lookup
	return e
}

// ExpandString resolves every reference in s. An allowed but unset or empty
// variable takes its fallback when one is given.
func (e *EnvExpander) ExpandString(s string) (string, error) {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		value, ok := e.resolve(envRef.FindStringSubmatch(ref))
		if !ok {
			return ref
		}
		return value
	}), nil
}

func (e *EnvExpander) resolve(groups []string) (string, bool) {
	name, fallback := groups[1], groups[2]
	if !e.allows(name) {
		return "", false
	}
	if value, ok := e.lookup(name); ok && value != "" {
		return value, true
	}
	if strings.Contains(groups[0], ":-") {
		return fallback, true
	}
	return "", false
}

// ExpandMap returns a copy of m with references expanded in every nested string
func (e *EnvExpander) ExpandMap(m map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(m))
	for key, value := range m {
		expanded, err := e.expand(value)
		if err != nil {
			return nil, fmt.Errorf("failed to expand value for key %s: %w", key, err)
		}
		out[key] = expanded
	}
	return out, nil
}

func (e *EnvExpander) expand(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.ExpandString(v)
	case map[string]interface{}:
		return e.ExpandMap(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			expanded, err := e.expand(item)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return value, nil
	}
}

// Unresolved lists the variables referenced in s that expansion would leave
// in place
func (e *EnvExpander) Unresolved(s string) []string {
	var names []string
	for _, groups := range envRef.FindAllStringSubmatch(s, -1) {
		if _, ok := e.resolve(groups); !ok {
			names = append(names, groups[1])
		}
	}
	return names
}

func (e *EnvExpander) allows(name string) bool {
	for _, pattern := range e.allowed {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
