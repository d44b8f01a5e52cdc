package event

// Data is an event payload: string keys, arbitrarily typed values.
type Data map[string]any

// Presence distinguishes a missing key from an explicit null from a value.
type Presence int

const (
	// Absent means the key is not in the payload.
	Absent Presence = iota
	// Null means the key is present with a nil value.
	Null
	// Set means the key is present with a non-nil value.
	Set
)

// String returns the presence name.
func (p Presence) String() string {
	switch p {
	case Absent:
		return "absent"
	case Null:
		return "null"
	case Set:
		return "set"
	default:
		return "unknown"
	}
}

// Field is the result of looking up a payload key.
type Field struct {
	Presence Presence
	Value    any
}

// Lookup returns the field stored under key. A nil Data yields Absent.
func (d Data) Lookup(key string) Field {
	v, ok := d[key]
	switch {
	case !ok:
		return Field{Presence: Absent}
	case v == nil:
		return Field{Presence: Null}
	default:
		return Field{Presence: Set, Value: v}
	}
}

// String returns the value as a string. ok is false unless the field is
// Set and holds a string; the empty string is a valid result.
func (f Field) String() (s string, ok bool) {
	if f.Presence != Set {
		return "", false
	}
	s, ok = f.Value.(string)
	return s, ok
}

// NonEmptyString returns the string stored under key when it is set,
// is a string, and is not empty.
func (d Data) NonEmptyString(key string) (string, bool) {
	s, ok := d.Lookup(key).String()
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Map returns the nested map stored under key, or nil.
func (d Data) Map(key string) map[string]any {
	switch m := d[key].(type) {
	case map[string]any:
		return m
	case Data:
		return m
	}
	return nil
}

// Records returns the list of records stored under key. Both []any
// holding maps and []map[string]any are accepted. Elements keep their
// position; an element that is not a map is returned as a nil record.
// A missing or non-list value returns nil.
func (d Data) Records(key string) []map[string]any {
	switch list := d[key].(type) {
	case []map[string]any:
		return list
	case []any:
		records := make([]map[string]any, len(list))
		for i, item := range list {
			switch m := item.(type) {
			case map[string]any:
				records[i] = m
			case Data:
				records[i] = m
			}
		}
		return records
	}
	return nil
}

// Raw returns the payload as a plain map. A nil Data returns nil.
func (d Data) Raw() map[string]any {
	if d == nil {
		return nil
	}
	return map[string]any(d)
}
