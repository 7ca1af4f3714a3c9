// Package flow declares the ordered question lists driven by the conversation engine.
package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kompomir/servicebot/intake/field"
)

// ID identifies a flow definition.
type ID string

const (
	// Repair collects an equipment repair request. The sysadmin variant shares its steps.
	Repair ID = "repair"
	// Courier collects a courier pickup request.
	Courier ID = "courier"
	// Cartridge collects a cartridge refill request.
	Cartridge ID = "cartridge"
)

// VariantSysadmin tags repair submissions that ask for an on-site system administrator.
const VariantSysadmin = "sysadmin"

// FieldSpec describes one question of a flow.
type FieldSpec struct {
	Key       string
	Label     string
	Prompt    string
	Validator field.Validator
	Optional  bool
}

// PromptText returns the prompt shown to the user, with a skip hint for optional fields.
func (f FieldSpec) PromptText() string {
	if !f.Optional {
		return f.Prompt
	}
	return f.Prompt + "\n\n(отправьте «" + field.SkipMarker + "», чтобы пропустить)"
}

// Variant distinguishes submissions that share one step sequence.
type Variant struct {
	Key    string
	Title  string
	Button string
}

// Definition is an immutable ordered list of steps.
type Definition struct {
	ID       ID
	Variants []Variant
	Steps    []FieldSpec
}

// Len returns the number of steps.
func (d *Definition) Len() int {
	return len(d.Steps)
}

// Step returns the step at index i.
func (d *Definition) Step(i int) (FieldSpec, bool) {
	if i < 0 || i >= len(d.Steps) {
		return FieldSpec{}, false
	}
	return d.Steps[i], true
}

// Variant looks up a variant by key. An empty key selects the first variant.
func (d *Definition) Variant(key string) (Variant, bool) {
	if len(d.Variants) == 0 {
		return Variant{}, false
	}
	if key == "" {
		return d.Variants[0], true
	}
	for _, v := range d.Variants {
		if v.Key == key {
			return v, true
		}
	}
	return Variant{}, false
}

// Title returns the human readable title of the variant, falling back to the flow id.
func (d *Definition) Title(variant string) string {
	if v, ok := d.Variant(variant); ok && v.Title != "" {
		return v.Title
	}
	return string(d.ID)
}

// Field is one rendered line of a summary.
type Field struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Fields lists the collected values in step order. Missing or empty values
// are rendered as the placeholder.
func (d *Definition) Fields(values map[string]string) []Field {
	out := make([]Field, 0, len(d.Steps))
	for _, st := range d.Steps {
		v := strings.TrimSpace(values[st.Key])
		if v == "" {
			v = field.DefaultPlaceholder
		}
		out = append(out, Field{Key: st.Key, Label: st.Label, Value: v})
	}
	return out
}

// RenderSummary renders the title line followed by one "Label: value" line per step.
func (d *Definition) RenderSummary(variant string, values map[string]string) string {
	var b strings.Builder
	b.WriteString("📋 ")
	b.WriteString(d.Title(variant))
	for _, f := range d.Fields(values) {
		b.WriteByte('\n')
		b.WriteString(f.Label)
		b.WriteString(": ")
		b.WriteString(f.Value)
	}
	return b.String()
}

// Validate checks structural consistency of a definition.
func (d *Definition) Validate() error {
	if d == nil {
		return errors.New("flow: nil definition")
	}
	if strings.TrimSpace(string(d.ID)) == "" {
		return errors.New("flow: empty id")
	}
	if len(d.Variants) == 0 {
		return fmt.Errorf("flow %s: at least one variant is required", d.ID)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("flow %s: at least one step is required", d.ID)
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for i, st := range d.Steps {
		if strings.TrimSpace(st.Key) == "" {
			return fmt.Errorf("flow %s: step %d has empty key", d.ID, i)
		}
		if _, dup := seen[st.Key]; dup {
			return fmt.Errorf("flow %s: duplicate step key %q", d.ID, st.Key)
		}
		seen[st.Key] = struct{}{}
		if st.Label == "" || st.Prompt == "" {
			return fmt.Errorf("flow %s: step %q needs label and prompt", d.ID, st.Key)
		}
		if st.Validator == nil {
			return fmt.Errorf("flow %s: step %q has no validator", d.ID, st.Key)
		}
	}
	for _, v := range d.Variants {
		if strings.TrimSpace(v.Key) == "" {
			return fmt.Errorf("flow %s: variant with empty key", d.ID)
		}
	}
	return nil
}
