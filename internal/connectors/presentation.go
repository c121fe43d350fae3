package connectors

// Presentation holds display overrides for the field schema.
// Built once at startup and shared read-only.
type Presentation struct {
	LabelOverrides map[string]string
	Hidden         map[string]bool
}

// NewPresentation builds a Presentation from configured overrides
func NewPresentation(labelOverrides map[string]string, hidden []string) *Presentation {
	p := &Presentation{
		LabelOverrides: make(map[string]string, len(labelOverrides)),
		Hidden:         make(map[string]bool, len(hidden)),
	}
	for k, v := range labelOverrides {
		p.LabelOverrides[k] = v
	}
	for _, key := range hidden {
		p.Hidden[key] = true
	}
	return p
}

// Apply returns a copy of fields with overrides applied.
// Required and coupled fields are never hidden.
func (p *Presentation) Apply(fields []FieldMeta) []FieldMeta {
	out := make([]FieldMeta, 0, len(fields))
	for _, f := range fields {
		if p != nil {
			if p.Hidden[f.Key] && f.Toggleable() {
				continue
			}
			if label, ok := p.LabelOverrides[f.Key]; ok && label != "" {
				f.Label = label
			}
		}
		out = append(out, f)
	}
	return out
}
