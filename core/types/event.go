package types

// Event is the wire-level representation of a committed state change. Every
// mutating entry point in the native modules produces one after its effects
// are persisted; attribute values are rendered as strings so downstream
// consumers never need module-specific decoding.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute value, or the empty string when the
// event carries no such key.
func (e *Event) Attribute(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
