// Package fieldmeta serves static prompting guidance (descriptions, examples,
// hints, allowed values) for ROPA entity fields.
package fieldmeta

import (
	_ "embed"
	"fmt"
	"io"
	"sync"

	"github.com/kiranshivaraju/ropasuggest/pkg/models"
	"gopkg.in/yaml.v3"
)

//go:embed fields.yaml
var embeddedFields []byte

// Registry is an immutable lookup table. It is safe for concurrent use.
type Registry struct {
	fields map[models.EntityType]map[string]models.FieldMetadata
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Default returns the registry built from the embedded table.
// The table is parsed once per process.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = parse(embeddedFields)
	})
	return defaultRegistry, defaultErr
}

// Load builds a registry from YAML read from r.
func Load(r io.Reader) (*Registry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read field metadata: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Registry, error) {
	var raw map[string]map[string]models.FieldMetadata
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse field metadata: %w", err)
	}

	fields := make(map[models.EntityType]map[string]models.FieldMetadata, len(raw))
	for entity, byField := range raw {
		et, ok := models.ParseEntityType(entity)
		if !ok {
			return nil, fmt.Errorf("parse field metadata: unknown entity type %q", entity)
		}
		for name, meta := range byField {
			if _, ok := models.ParseFieldType(meta.FieldType); !ok {
				return nil, fmt.Errorf("parse field metadata: %s.%s has unknown field_type %q", entity, name, meta.FieldType)
			}
		}
		fields[et] = byField
	}
	return &Registry{fields: fields}, nil
}

// Lookup returns a copy of the metadata for entityType.fieldName.
func (r *Registry) Lookup(entityType models.EntityType, fieldName string) (*models.FieldMetadata, bool) {
	if r == nil {
		return nil, false
	}
	meta, ok := r.fields[entityType][fieldName]
	if !ok {
		return nil, false
	}
	meta.Examples = append([]string(nil), meta.Examples...)
	meta.AllowedValues = append([]models.AllowedValue(nil), meta.AllowedValues...)
	return &meta, true
}

// Fields returns the field names known for entityType.
func (r *Registry) Fields(entityType models.EntityType) []string {
	names := make([]string, 0, len(r.fields[entityType]))
	for name := range r.fields[entityType] {
		names = append(names, name)
	}
	return names
}
