package product

import (
	"math"
	"sort"
	"strings"

	"github.com/jacentio/catalog/store"
)

// FieldType is the value type a patchable field accepts.
type FieldType int

const (
	TypeString FieldType = iota
	TypeNumber
	TypeStatus
)

// FieldSpec describes one patchable field.
type FieldSpec struct {
	// Name is the stored attribute name (e.g., "price").
	Name string

	// Type is the accepted value type.
	Type FieldType

	// Required fields cannot be cleared with an empty value.
	Required bool

	// MaxLen bounds string values (0 = unbounded).
	MaxLen int
}

// Schema holds the fields an update may change. Anything not registered,
// including the id, the partition key and store-managed attributes, is rejected.
type Schema struct {
	fields map[string]FieldSpec
	order  []string
}

// NewSchema creates a new empty Schema.
func NewSchema() *Schema {
	return &Schema{fields: make(map[string]FieldSpec)}
}

// Register adds a patchable field.
func (s *Schema) Register(fs FieldSpec) {
	if _, ok := s.fields[fs.Name]; !ok {
		s.order = append(s.order, fs.Name)
	}
	s.fields[fs.Name] = fs
}

// Lookup returns the definition of a field name.
func (s *Schema) Lookup(name string) (FieldSpec, bool) {
	fs, ok := s.fields[name]
	return fs, ok
}

// Fields returns the registered field names in registration order.
func (s *Schema) Fields() []string {
	return append([]string(nil), s.order...)
}

// DefaultSchema returns the patchable fields of a product.
func DefaultSchema() *Schema {
	s := NewSchema()
	s.Register(FieldSpec{Name: AttrName, Type: TypeString, Required: true, MaxLen: maxNameLen})
	s.Register(FieldSpec{Name: AttrDescription, Type: TypeString, MaxLen: maxDescriptionLen})
	s.Register(FieldSpec{Name: AttrSKU, Type: TypeString, MaxLen: maxSKULen})
	s.Register(FieldSpec{Name: AttrPrice, Type: TypeNumber, Required: true})
	s.Register(FieldSpec{Name: AttrStatus, Type: TypeStatus, Required: true})
	return s
}

// Delta is a validated set of field assignments. The zero value is empty.
type Delta struct {
	set []store.Field
}

// Empty reports whether the delta changes nothing.
func (d Delta) Empty() bool {
	return len(d.set) == 0
}

// Len returns the number of fields assigned.
func (d Delta) Len() int {
	return len(d.set)
}

// Fields returns the assignments ordered by field name.
func (d Delta) Fields() []store.Field {
	return append([]store.Field(nil), d.set...)
}

// NewDelta validates a raw patch against the schema.
func (s *Schema) NewDelta(patch map[string]any) (Delta, error) {
	names := make([]string, 0, len(patch))
	for name := range patch {
		names = append(names, name)
	}
	sort.Strings(names)

	d := Delta{set: make([]store.Field, 0, len(names))}
	for _, name := range names {
		fs, ok := s.fields[name]
		if !ok {
			return Delta{}, store.Invalid("update", "field %q cannot be updated", name)
		}
		value, err := fs.coerce(patch[name])
		if err != nil {
			return Delta{}, err
		}
		d.set = append(d.set, store.Field{Name: name, Value: value})
	}
	return d, nil
}

func (fs FieldSpec) coerce(v any) (any, error) {
	switch fs.Type {
	case TypeNumber:
		f, err := toFloat(v)
		if err != nil {
			return nil, store.Invalid("update", "field %q: %v", fs.Name, err)
		}
		if fs.Name == AttrPrice && (f < 0 || math.IsNaN(f)) {
			return nil, store.Invalid("update", "field %q must be non-negative", fs.Name)
		}
		return f, nil

	case TypeStatus:
		str, ok := v.(string)
		if !ok || !Status(str).Valid() {
			return nil, store.Invalid("update", "field %q: unknown status %v", fs.Name, v)
		}
		return str, nil

	default:
		str, ok := v.(string)
		if !ok {
			return nil, store.Invalid("update", "field %q must be a string", fs.Name)
		}
		if fs.Required && strings.TrimSpace(str) == "" {
			return nil, store.Invalid("update", "field %q cannot be empty", fs.Name)
		}
		if fs.MaxLen > 0 && len(str) > fs.MaxLen {
			return nil, store.Invalid("update", "field %q exceeds %d characters", fs.Name, fs.MaxLen)
		}
		return str, nil
	}
}
