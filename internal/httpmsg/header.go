package httpmsg

import "strings"

// Field is one header line. Name keeps the spelling it was read or set with.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered multimap of header fields. Names match
// case-insensitively and duplicates are kept in insertion order.
type Header struct {
	fields []Field
}

// Get returns the value of the first field named name, or "".
func (h *Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Lookup is Get with a presence flag.
func (h *Header) Lookup(name string) (string, bool) {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns every value of name in order.
func (h *Header) Values(name string) []string {
	var out []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Has reports whether a field named name is present.
func (h *Header) Has(name string) bool {
	_, ok := h.Lookup(name)
	return ok
}

// Add appends a field, keeping existing fields with the same name.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Set replaces the first field matching name in place, using the new name
// spelling, and drops any later matches. The field is appended when absent.
func (h *Header) Set(name, value string) {
	idx := -1
	kept := h.fields[:0]
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			if idx >= 0 {
				continue
			}
			idx = len(kept)
			f = Field{Name: name, Value: value}
		}
		kept = append(kept, f)
	}
	h.fields = kept
	if idx < 0 {
		h.fields = append(h.fields, Field{Name: name, Value: value})
	}
}

// Del removes every field named name.
func (h *Header) Del(name string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Fields returns a copy of the fields in order.
func (h *Header) Fields() []Field {
	out := make([]Field, len(h.fields))
	copy(out, h.fields)
	return out
}

// Len returns the number of fields, duplicates included.
func (h *Header) Len() int {
	return len(h.fields)
}

// Clone returns a deep copy.
func (h *Header) Clone() Header {
	return Header{fields: h.Fields()}
}

// appendToLast folds a continuation line into the previous field.
func (h *Header) appendToLast(value string) bool {
	if len(h.fields) == 0 {
		return false
	}
	last := &h.fields[len(h.fields)-1]
	if last.Value == "" {
		last.Value = value
	} else {
		last.Value += " " + value
	}
	return true
}
