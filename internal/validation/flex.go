package validation

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number is a JSON number that also accepts numeric strings. Decoding never
// fails; unparseable input sets Invalid so the caller can report it against
// the field instead of rejecting the whole document.
type Number struct {
	Value   float64
	Set     bool
	Invalid bool
	Raw     string
}

// NumberOf returns a set Number.
func NumberOf(v float64) Number {
	return Number{Value: v, Set: true}
}

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			n.Set, n.Invalid, n.Raw = true, true, string(b)
			return nil
		}
		*n = ParseNumber(s)
		return nil
	}
	*n = ParseNumber(string(b))
	return nil
}

// MarshalJSON writes the value, or null when unset.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Set || n.Invalid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(n.Value, 'f', -1, 64)), nil
}

// ParseNumber coerces a textual number. Blank input is unset.
func ParseNumber(s string) Number {
	s = strings.TrimSpace(s)
	if s == "" {
		return Number{}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Number{Set: true, Invalid: true, Raw: s}
	}
	return Number{Value: f, Set: true}
}

// Bool is a JSON boolean that also accepts "true"/"false"/"yes"/"no"/"1"/"0"
// and the numbers 0 and 1.
type Bool struct {
	Value   bool
	Set     bool
	Invalid bool
	Raw     string
}

// BoolOf returns a set Bool.
func BoolOf(v bool) Bool {
	return Bool{Value: v, Set: true}
}

func (v *Bool) UnmarshalJSON(b []byte) error {
	*v = Bool{}
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			v.Set, v.Invalid, v.Raw = true, true, string(b)
			return nil
		}
		*v = ParseBool(s)
		return nil
	}
	*v = ParseBool(string(b))
	return nil
}

// MarshalJSON writes the value, or null when unset.
func (v Bool) MarshalJSON() ([]byte, error) {
	if !v.Set || v.Invalid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatBool(v.Value)), nil
}

// ParseBool coerces a textual boolean. Blank input is unset.
func ParseBool(s string) Bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return Bool{}
	case "true", "yes", "y", "1":
		return Bool{Value: true, Set: true}
	case "false", "no", "n", "0":
		return Bool{Value: false, Set: true}
	}
	return Bool{Set: true, Invalid: true, Raw: s}
}

// StringList is a JSON array of strings that tolerates null entries,
// numeric entries, and a single semicolon-joined string. Empty and null
// entries are dropped on decode; an empty list is valid.
type StringList struct {
	Values  []string
	Set     bool
	Invalid bool
}

// StringsOf returns a set StringList.
func StringsOf(values ...string) StringList {
	return StringList{Values: values, Set: true}
}

func (l *StringList) UnmarshalJSON(b []byte) error {
	*l = StringList{}
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	l.Set = true
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			l.Invalid = true
			return nil
		}
		l.Values = SplitList(s)
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		l.Invalid = true
		return nil
	}
	l.Values = make([]string, 0, len(raw))
	for _, item := range raw {
		item = bytes.TrimSpace(item)
		switch {
		case string(item) == "null":
			continue
		case len(item) > 0 && item[0] == '"':
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				l.Invalid = true
				return nil
			}
			if s = strings.TrimSpace(s); s != "" {
				l.Values = append(l.Values, s)
			}
		case len(item) > 0 && (item[0] == '{' || item[0] == '['):
			l.Invalid = true
			return nil
		default:
			// numbers and booleans are kept as their literal text
			l.Values = append(l.Values, string(item))
		}
	}
	return nil
}

// MarshalJSON always writes an array.
func (l StringList) MarshalJSON() ([]byte, error) {
	if l.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.Values)
}

// SplitList splits a semicolon-joined list, trimming and dropping blanks.
func SplitList(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
