// Package fields defines the field kinds a host template can use and the
// registry that validates them once, when definitions are loaded.
package fields

import (
	"errors"
	"fmt"
	"sort"
)

// Kind is a closed set of field types.
type Kind string

const (
	KindText     Kind = "text"
	KindTextarea Kind = "textarea"
	KindInteger  Kind = "integer"
	KindCheckbox Kind = "checkbox"
	KindRepeater Kind = "repeater"
)

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindTextarea, KindInteger, KindCheckbox, KindRepeater:
		return true
	}
	return false
}

type Field struct {
	ID    int64
	Name  string
	Label string
	Kind  Kind
	// Template lists the sub-field names of a repeater item. Empty for other kinds.
	Template []string
}

// NullField stands in for a field that could not be resolved.
var NullField = &Field{}

func (f *Field) IsNull() bool {
	return f == nil || f.ID == 0
}

func (f *Field) IsRepeater() bool {
	return f != nil && f.Kind == KindRepeater
}

var ErrUnknownField = errors.New("unknown field")

// Registry holds validated field definitions and host templates.
type Registry struct {
	byID      map[int64]*Field
	byName    map[string]*Field
	templates map[string][]*Field
}

// NewRegistry validates defs and templates and returns a registry. A
// repeater must name at least one sub-field, every sub-field must exist and
// none may itself be a repeater.
func NewRegistry(defs []Field, templates map[string][]string) (*Registry, error) {
	r := &Registry{
		byID:      make(map[int64]*Field, len(defs)),
		byName:    make(map[string]*Field, len(defs)),
		templates: make(map[string][]*Field, len(templates)),
	}
	for i := range defs {
		f := defs[i]
		if f.ID <= 0 {
			return nil, fmt.Errorf("field %q: id must be positive", f.Name)
		}
		if f.Name == "" {
			return nil, fmt.Errorf("field %d: name is required", f.ID)
		}
		if !f.Kind.Valid() {
			return nil, fmt.Errorf("field %q: unknown kind %q", f.Name, f.Kind)
		}
		if _, dup := r.byID[f.ID]; dup {
			return nil, fmt.Errorf("field %q: duplicate id %d", f.Name, f.ID)
		}
		if _, dup := r.byName[f.Name]; dup {
			return nil, fmt.Errorf("field %q: duplicate name", f.Name)
		}
		if f.Label == "" {
			f.Label = f.Name
		}
		r.byID[f.ID] = &f
		r.byName[f.Name] = &f
	}

	for _, f := range r.byID {
		if f.Kind != KindRepeater {
			if len(f.Template) > 0 {
				return nil, fmt.Errorf("field %q: only repeater fields have a template", f.Name)
			}
			continue
		}
		if len(f.Template) == 0 {
			return nil, fmt.Errorf("repeater %q: template is empty", f.Name)
		}
		for _, sub := range f.Template {
			sf, ok := r.byName[sub]
			if !ok {
				return nil, fmt.Errorf("repeater %q: %w %q", f.Name, ErrUnknownField, sub)
			}
			if sf.Kind == KindRepeater {
				return nil, fmt.Errorf("repeater %q: nested repeater %q is not supported", f.Name, sub)
			}
		}
	}

	for name, names := range templates {
		list := make([]*Field, 0, len(names))
		for _, fn := range names {
			f, ok := r.byName[fn]
			if !ok {
				return nil, fmt.Errorf("template %q: %w %q", name, ErrUnknownField, fn)
			}
			list = append(list, f)
		}
		r.templates[name] = list
	}
	return r, nil
}

func (r *Registry) ByID(id int64) (*Field, bool) {
	f, ok := r.byID[id]
	return f, ok
}

func (r *Registry) ByName(name string) (*Field, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// Repeater returns the repeater field with the given id.
func (r *Registry) Repeater(id int64) (*Field, bool) {
	f, ok := r.byID[id]
	if !ok || !f.IsRepeater() {
		return nil, false
	}
	return f, true
}

// Template returns the fields of a host template in declaration order.
func (r *Registry) Template(name string) ([]*Field, bool) {
	fs, ok := r.templates[name]
	return fs, ok
}

// SubFields returns the sub-field definitions of a repeater.
func (r *Registry) SubFields(f *Field) []*Field {
	out := make([]*Field, 0, len(f.Template))
	for _, n := range f.Template {
		out = append(out, r.byName[n])
	}
	return out
}

func (r *Registry) TemplateNames() []string {
	names := make([]string, 0, len(r.templates))
	for n := range r.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
