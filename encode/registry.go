package encode

import "sort"

// Registry is an explicit collection of label encoders keyed by column name.
//
// Each batch source owns one registry and passes it to collaborators by
// reference, instead of retrieving encoders from process-global state. A
// registry may be shared between the sources produced by a split so that all
// splits decode labels identically.
type Registry struct {
	encoders map[string]*LabelEncoder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{encoders: make(map[string]*LabelEncoder)}
}

// Get returns the encoder for the column, creating an unfitted one on first
// use.
func (r *Registry) Get(column string) *LabelEncoder {
	if e, ok := r.encoders[column]; ok {
		return e
	}
	e := NewLabelEncoder(column)
	r.encoders[column] = e
	return e
}

// Lookup returns the encoder for the column without creating one.
func (r *Registry) Lookup(column string) (*LabelEncoder, bool) {
	e, ok := r.encoders[column]
	return e, ok
}

// Add registers a pre-built (typically pre-fitted) encoder under its column
// name, replacing any existing entry.
func (r *Registry) Add(e *LabelEncoder) {
	r.encoders[e.Column()] = e
}

// Columns returns the registered column names in sorted order.
func (r *Registry) Columns() []string {
	out := make([]string, 0, len(r.encoders))
	for c := range r.encoders {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
