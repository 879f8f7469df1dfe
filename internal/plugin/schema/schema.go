// Package schema validates plugin settings documents against the settings
// schema declared in a plugin definition.
//
// Supported keywords are a JSON Schema subset: type, properties, required,
// additionalProperties, items, enum, const, default, minimum, maximum,
// exclusiveMinimum, exclusiveMaximum, multipleOf, minLength, maxLength,
// pattern, format, minItems, maxItems, uniqueItems, anyOf, oneOf, not, $ref
// and $defs.
package schema

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Schema is a JSON Schema definition for a settings document.
type Schema struct {
	// Title is a descriptive title.
	Title string `json:"title,omitempty"`

	// Description provides documentation.
	Description string `json:"description,omitempty"`

	// Type is the JSON type (string, number, integer, boolean, array, object, null).
	Type SchemaType `json:"type,omitempty"`

	// Properties defines object properties (for type: object).
	Properties map[string]*Schema `json:"properties,omitempty"`

	// AdditionalProperties controls whether extra properties are allowed.
	AdditionalProperties *bool `json:"additionalProperties,omitempty"`

	// Required lists required property names.
	Required []string `json:"required,omitempty"`

	// Items defines the schema for array elements.
	Items *Schema `json:"items,omitempty"`

	Enum    []any `json:"enum,omitempty"`
	Const   any   `json:"const,omitempty"`
	Default any   `json:"default,omitempty"`

	Minimum          *float64 `json:"minimum,omitempty"`
	Maximum          *float64 `json:"maximum,omitempty"`
	ExclusiveMinimum *float64 `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum *float64 `json:"exclusiveMaximum,omitempty"`
	MultipleOf       *float64 `json:"multipleOf,omitempty"`

	MinLength *int   `json:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty"`

	// Format is a semantic format hint (color, duration, uri, email, regex).
	Format string `json:"format,omitempty"`

	MinItems    *int `json:"minItems,omitempty"`
	MaxItems    *int `json:"maxItems,omitempty"`
	UniqueItems bool `json:"uniqueItems,omitempty"`

	AnyOf []*Schema `json:"anyOf,omitempty"`
	OneOf []*Schema `json:"oneOf,omitempty"`
	Not   *Schema   `json:"not,omitempty"`

	// Ref references another schema ($ref).
	Ref string `json:"$ref,omitempty"`

	// Defs contains schema definitions ($defs).
	Defs map[string]*Schema `json:"$defs,omitempty"`
}

// SchemaType represents JSON Schema type(s).
// Can be a single type or an array of types.
type SchemaType struct {
	Types []string
}

// UnmarshalJSON handles both single type and array of types.
func (t *SchemaType) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		t.Types = []string{single}
		return nil
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("type must be string or array of strings: %w", err)
	}
	t.Types = arr
	return nil
}

// MarshalJSON outputs single type as string, multiple as array.
func (t SchemaType) MarshalJSON() ([]byte, error) {
	if len(t.Types) == 1 {
		return json.Marshal(t.Types[0])
	}
	return json.Marshal(t.Types)
}

// Is checks if the schema type includes the given type.
func (t SchemaType) Is(typ string) bool {
	return slices.Contains(t.Types, typ)
}

// IsEmpty returns true if no types are defined.
func (t SchemaType) IsEmpty() bool {
	return len(t.Types) == 0
}

// String returns the type as a string.
func (t SchemaType) String() string {
	if len(t.Types) == 1 {
		return t.Types[0]
	}
	return fmt.Sprintf("%v", t.Types)
}

// Parse parses a JSON Schema from bytes.
func Parse(data []byte) (*Schema, error) {
	s := &Schema{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return s, nil
}

// FromMap converts a decoded schema document, as found in a plugin
// definition, into a Schema. A nil or empty map yields a nil schema, which
// accepts any document.
func FromMap(doc map[string]any) (*Schema, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	return Parse(data)
}

// Defaults builds a document from the default values of the top-level
// properties. Nested object properties without a default of their own are
// filled recursively.
func (s *Schema) Defaults() map[string]any {
	out := map[string]any{}
	if s == nil {
		return out
	}
	for name, prop := range s.Properties {
		switch {
		case prop.Default != nil:
			out[name] = prop.Default
		case prop.Type.Is(TypeNameObject) && len(prop.Properties) > 0:
			if nested := prop.Defaults(); len(nested) > 0 {
				out[name] = nested
			}
		}
	}
	return out
}

// IsRequired checks if a property is required.
func (s *Schema) IsRequired(name string) bool {
	return slices.Contains(s.Required, name)
}

// AllowsAdditionalProperties returns whether additional properties are allowed.
func (s *Schema) AllowsAdditionalProperties() bool {
	if s.AdditionalProperties == nil {
		return true
	}
	return *s.AdditionalProperties
}

// Common type constants for JSON Schema.
const (
	TypeNameString  = "string"
	TypeNameNumber  = "number"
	TypeNameInteger = "integer"
	TypeNameBoolean = "boolean"
	TypeNameArray   = "array"
	TypeNameObject  = "object"
	TypeNameNull    = "null"
)

// Supported formats.
const (
	FormatColor    = "color"
	FormatDuration = "duration"
	FormatURI      = "uri"
	FormatEmail    = "email"
	FormatRegex    = "regex"
)
