// Package extension loads extension manifests that register source types
// and the text shaping plugin from a linkable in-process catalog.
package extension

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jobrunner/tilework/internal/domain"
)

// Manifest describes what an extension provides.
//
//	name: hillshade-pack
//	source_types:
//	  - name: terrain-vector
//	    use: vector
//	text_shaping_plugin: bidi
type Manifest struct {
	Name              string           `yaml:"name"`
	SourceTypes       []SourceTypeSpec `yaml:"source_types"`
	TextShapingPlugin string           `yaml:"text_shaping_plugin"`
}

// SourceTypeSpec registers Name using the implementation linked as Use.
type SourceTypeSpec struct {
	Name string `yaml:"name"`
	Use  string `yaml:"use"`
}

// ParseManifest decodes and validates a manifest. Unknown keys are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty manifest: %w", domain.ErrInvalidInput)
		}
		return nil, fmt.Errorf("decoding manifest: %v: %w", err, domain.ErrInvalidInput)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that the manifest provides something and names it fully.
func (m *Manifest) Validate() error {
	if len(m.SourceTypes) == 0 && m.TextShapingPlugin == "" {
		return &domain.ValidationError{Field: "source_types", Constraint: "non-empty", Message: "manifest provides no source types or plugin"}
	}
	seen := make(map[string]bool, len(m.SourceTypes))
	for i, st := range m.SourceTypes {
		field := fmt.Sprintf("source_types[%d]", i)
		if st.Name == "" {
			return &domain.ValidationError{Field: field + ".name", Constraint: "required", Message: "missing name"}
		}
		if st.Use == "" {
			return &domain.ValidationError{Field: field + ".use", Value: st.Name, Constraint: "required", Message: "missing implementation"}
		}
		if seen[st.Name] {
			return &domain.ValidationError{Field: field + ".name", Value: st.Name, Constraint: "unique", Message: "duplicate source type"}
		}
		seen[st.Name] = true
	}
	return nil
}
