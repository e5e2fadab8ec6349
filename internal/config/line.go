// Package config parses the flat key=value configuration lines used to
// initialize components.
//
// A line is a whitespace-separated list of key=value items. Values may be
// double- or single-quoted to include spaces. Reads are tracked so that a
// caller can reject lines containing keys nothing consumed.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Line is one parsed configuration line.
type Line struct {
	whole string
	keys  []string
	items map[string]string
	used  map[string]bool
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, c := range key {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}

// ParseLine parses a configuration line. Duplicate or malformed keys are
// errors.
func ParseLine(line string) (*Line, error) {
	l := &Line{
		whole: line,
		items: make(map[string]string),
		used:  make(map[string]bool),
	}
	s := strings.TrimSpace(line)
	for s != "" {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			return nil, fmt.Errorf("expected key=value, got %q in config line %q", s, line)
		}
		key := s[:eq]
		if !validKey(key) {
			return nil, fmt.Errorf("invalid config key %q in config line %q", key, line)
		}
		rest := s[eq+1:]
		var value string
		if rest != "" && (rest[0] == '"' || rest[0] == '\'') {
			quote := rest[0]
			end := strings.IndexByte(rest[1:], quote)
			if end < 0 {
				return nil, fmt.Errorf("unterminated quote in config line %q", line)
			}
			value = rest[1 : 1+end]
			s = strings.TrimLeft(rest[2+end:], " \t")
		} else if sp := strings.IndexAny(rest, " \t"); sp >= 0 {
			value = rest[:sp]
			s = strings.TrimLeft(rest[sp+1:], " \t")
		} else {
			value = rest
			s = ""
		}
		if _, dup := l.items[key]; dup {
			return nil, fmt.Errorf("duplicate config key %q in config line %q", key, line)
		}
		l.keys = append(l.keys, key)
		l.items[key] = value
	}
	return l, nil
}

// Whole returns the original line, for error messages.
func (l *Line) Whole() string { return l.whole }

// Has reports whether key is present, without marking it used.
func (l *Line) Has(key string) bool {
	_, ok := l.items[key]
	return ok
}

// Value returns the raw value for key, marking it used.
func (l *Line) Value(key string) (string, bool) {
	v, ok := l.items[key]
	if ok {
		l.used[key] = true
	}
	return v, ok
}

// RequiredString returns the value for key, failing if it is absent.
func (l *Line) RequiredString(key string) (string, error) {
	v, ok := l.Value(key)
	if !ok {
		return "", fmt.Errorf("missing required key %q in config line %q", key, l.whole)
	}
	return v, nil
}

// OptionalString returns the value for key, or def if it is absent.
func (l *Line) OptionalString(key, def string) string {
	if v, ok := l.Value(key); ok {
		return v
	}
	return def
}

// RequiredInt returns the integer value for key, failing if it is absent or
// unparseable.
func (l *Line) RequiredInt(key string) (int, error) {
	v, err := l.RequiredString(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("bad value %q for key %q in config line %q", v, key, l.whole)
	}
	return n, nil
}

// OptionalInt returns the integer value for key, or def if it is absent.
func (l *Line) OptionalInt(key string, def int) (int, error) {
	v, ok := l.Value(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("bad value %q for key %q in config line %q", v, key, l.whole)
	}
	return n, nil
}

// OptionalFloat returns the float value for key, or def if it is absent.
func (l *Line) OptionalFloat(key string, def float32) (float32, error) {
	v, ok := l.Value(key)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return 0, fmt.Errorf("bad value %q for key %q in config line %q", v, key, l.whole)
	}
	return float32(f), nil
}

// OptionalBool returns the boolean value for key, or def if it is absent.
func (l *Line) OptionalBool(key string, def bool) (bool, error) {
	v, ok := l.Value(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("bad value %q for key %q in config line %q", v, key, l.whole)
	}
	return b, nil
}

// HasUnusedValues reports whether any key has not been read.
func (l *Line) HasUnusedValues() bool {
	return len(l.used) < len(l.items)
}

// UnusedValues returns the unread key=value items in their original order,
// space-separated.
func (l *Line) UnusedValues() string {
	var parts []string
	for _, k := range l.keys {
		if !l.used[k] {
			parts = append(parts, k+"="+l.items[k])
		}
	}
	return strings.Join(parts, " ")
}
