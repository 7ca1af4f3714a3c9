package flow

import (
	"fmt"
	"strings"

	coreconfig "github.com/kompomir/servicebot/core/config"
	"github.com/kompomir/servicebot/intake/field"
)

// reservedKeys are callback keys owned by the conversation controls.
var reservedKeys = map[string]struct{}{
	"manager":  {},
	"confirm":  {},
	"reject":   {},
	"cancel":   {},
	"back":     {},
	"main":     {},
	"contacts": {},
	"social":   {},
}

// IsReserved reports whether key is a control callback rather than a flow key.
func IsReserved(key string) bool {
	_, ok := reservedKeys[key]
	return ok
}

// Entry is a flow definition selected through one of its variant keys.
type Entry struct {
	Flow    *Definition
	Variant Variant
}

// Registry resolves start keys to flow definitions. It is read-only after Build.
type Registry struct {
	defs    []*Definition
	byID    map[ID]*Definition
	entries []Entry
	byKey   map[string]Entry
}

// NewRegistry indexes the given definitions.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{
		byID:  make(map[ID]*Definition, len(defs)),
		byKey: make(map[string]Entry),
	}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("flow: duplicate id %q", d.ID)
		}
		r.byID[d.ID] = d
		r.defs = append(r.defs, d)
		for _, v := range d.Variants {
			if IsReserved(v.Key) {
				return nil, fmt.Errorf("flow %s: variant key %q is reserved", d.ID, v.Key)
			}
			if prev, dup := r.byKey[v.Key]; dup {
				return nil, fmt.Errorf("flow %s: variant key %q already used by flow %s", d.ID, v.Key, prev.Flow.ID)
			}
			e := Entry{Flow: d, Variant: v}
			r.byKey[v.Key] = e
			r.entries = append(r.entries, e)
		}
	}
	return r, nil
}

// Build merges configured flows over the built-in defaults. A configured flow
// with a built-in id replaces it in place; new ids are appended.
func Build(custom []coreconfig.FlowConfig) (*Registry, error) {
	defs := Defaults()
	for _, fc := range custom {
		d, err := FromConfig(fc)
		if err != nil {
			return nil, err
		}
		replaced := false
		for i := range defs {
			if defs[i].ID == d.ID {
				defs[i] = d
				replaced = true
				break
			}
		}
		if !replaced {
			defs = append(defs, d)
		}
	}
	return NewRegistry(defs...)
}

// FromConfig builds a definition from its YAML form.
func FromConfig(fc coreconfig.FlowConfig) (*Definition, error) {
	d := &Definition{ID: ID(strings.TrimSpace(fc.ID))}
	for _, vc := range fc.Variants {
		d.Variants = append(d.Variants, Variant{
			Key:    strings.TrimSpace(vc.Key),
			Title:  vc.Title,
			Button: vc.Button,
		})
	}
	if len(d.Variants) == 0 && d.ID != "" {
		d.Variants = []Variant{{Key: string(d.ID), Title: string(d.ID), Button: string(d.ID)}}
	}
	for _, sc := range fc.Steps {
		kind := sc.Validator
		if sc.Optional && strings.TrimSpace(kind) == "" {
			kind = field.KindFreeText
		}
		v, err := field.ByName(kind, sc.Default)
		if err != nil {
			return nil, fmt.Errorf("flow %s: step %q: %w", d.ID, sc.Key, err)
		}
		// Only free text turns the skip marker into the default.
		if sc.Optional && v.Kind() != field.KindFreeText {
			return nil, fmt.Errorf("flow %s: optional step %q must use the %s validator, got %s", d.ID, sc.Key, field.KindFreeText, v.Kind())
		}
		d.Steps = append(d.Steps, FieldSpec{
			Key:       strings.TrimSpace(sc.Key),
			Label:     sc.Label,
			Prompt:    sc.Prompt,
			Validator: v,
			Optional:  sc.Optional,
		})
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Resolve returns the flow and variant started by key.
func (r *Registry) Resolve(key string) (Entry, bool) {
	e, ok := r.byKey[key]
	return e, ok
}

// Get returns the definition by id.
func (r *Registry) Get(id ID) (*Definition, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Entries lists every startable variant in registration order.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Keys lists the start keys in registration order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		keys = append(keys, e.Variant.Key)
	}
	return keys
}
