package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ledSchema = `{
	"type": "object",
	"required": ["color"],
	"additionalProperties": false,
	"properties": {
		"color":    {"type": "string", "format": "color", "default": "#ff0000"},
		"speed":    {"type": "integer", "minimum": 1, "maximum": 100, "default": 10},
		"mode":     {"type": "string", "enum": ["solid", "pulse"], "default": "solid"},
		"ratio":    {"type": "number", "exclusiveMaximum": 1},
		"leds":     {"type": "array", "items": {"type": "integer"}, "uniqueItems": true, "maxItems": 3},
		"advanced": {
			"type": "object",
			"properties": {
				"gamma": {"type": "number", "default": 2.2},
				"label": {"$ref": "#/$defs/label"}
			}
		}
	},
	"$defs": {
		"label": {"type": "string", "minLength": 2}
	}
}`

func mustParse(t *testing.T, doc string) *Schema {
	t.Helper()
	s, err := Parse([]byte(doc))
	require.NoError(t, err)
	return s
}

func TestParse_TypeForms(t *testing.T) {
	s := mustParse(t, `{"type": ["string", "null"]}`)
	assert.True(t, s.Type.Is(TypeNameString))
	assert.True(t, s.Type.Is(TypeNameNull))
	assert.Equal(t, "[string null]", s.Type.String())

	_, err := Parse([]byte(`{"type": 5}`))
	assert.Error(t, err)
}

func TestFromMap(t *testing.T) {
	s, err := FromMap(nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = FromMap(map[string]any{
		"type":       "object",
		"properties": map[string]any{"n": map[string]any{"type": "integer", "default": 3}},
	})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, s.Type.Is(TypeNameObject))
	assert.Equal(t, map[string]any{"n": float64(3)}, s.Defaults())
}

func TestDefaults(t *testing.T) {
	s := mustParse(t, ledSchema)
	assert.Equal(t, map[string]any{
		"color":    "#ff0000",
		"speed":    float64(10),
		"mode":     "solid",
		"advanced": map[string]any{"gamma": 2.2},
	}, s.Defaults())

	var nilSchema *Schema
	assert.Empty(t, nilSchema.Defaults())
}

func TestValidator_Validate(t *testing.T) {
	s := mustParse(t, ledSchema)

	tests := []struct {
		name     string
		doc      map[string]any
		wantPath string
	}{
		{name: "valid", doc: map[string]any{"color": "#00ff00", "speed": int64(5), "mode": "pulse"}},
		{name: "lua integers", doc: map[string]any{"color": "#00ff00", "leds": []any{int64(1), int64(2)}}},
		{name: "missing required", doc: map[string]any{"speed": 5}, wantPath: "color"},
		{name: "bad color", doc: map[string]any{"color": "nope"}, wantPath: "color"},
		{name: "integer expected", doc: map[string]any{"color": "#000000", "speed": 2.5}, wantPath: "speed"},
		{name: "above maximum", doc: map[string]any{"color": "#000000", "speed": 101}, wantPath: "speed"},
		{name: "enum", doc: map[string]any{"color": "#000000", "mode": "strobe"}, wantPath: "mode"},
		{name: "exclusive maximum", doc: map[string]any{"color": "#000000", "ratio": 1.0}, wantPath: "ratio"},
		{name: "unique items", doc: map[string]any{"color": "#000000", "leds": []any{1, 1}}, wantPath: "leds"},
		{name: "too many items", doc: map[string]any{"color": "#000000", "leds": []any{1, 2, 3, 4}}, wantPath: "leds"},
		{name: "item type", doc: map[string]any{"color": "#000000", "leds": []any{"x"}}, wantPath: "leds[0]"},
		{name: "unknown property", doc: map[string]any{"color": "#000000", "extra": true}, wantPath: "extra"},
		{name: "ref", doc: map[string]any{"color": "#000000", "advanced": map[string]any{"label": "x"}}, wantPath: "advanced.label"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidator(s).Validate(tt.doc)
			if tt.wantPath == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verrs *ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.NotEmpty(t, verrs.ErrorsForPath(tt.wantPath), "errors: %v", err)
		})
	}
}

func TestValidator_NilSchemaAcceptsAnything(t *testing.T) {
	assert.NoError(t, NewValidator(nil).Validate(map[string]any{"anything": []any{1, "two"}}))
}

func TestValidator_Combinators(t *testing.T) {
	s := mustParse(t, `{
		"type": "object",
		"properties": {
			"a": {"anyOf": [{"type": "string"}, {"type": "integer"}]},
			"o": {"oneOf": [{"type": "number"}, {"type": "integer"}]},
			"n": {"not": {"type": "null"}}
		}
	}`)
	v := NewValidator(s)

	assert.NoError(t, v.Validate(map[string]any{"a": "x"}))
	assert.Error(t, v.Validate(map[string]any{"a": true}))
	// 3 is both a number and an integer.
	assert.Error(t, v.Validate(map[string]any{"o": 3}))
	assert.NoError(t, v.Validate(map[string]any{"o": 3.5}))
	assert.Error(t, v.Validate(map[string]any{"n": nil}))
}

func TestValidator_MaxErrors(t *testing.T) {
	s := mustParse(t, `{"type": "object", "properties": {
		"a": {"type": "string"}, "b": {"type": "string"}, "c": {"type": "string"}
	}}`)
	err := NewValidator(s).WithMaxErrors(1).Validate(map[string]any{"a": 1, "b": 2, "c": 3})
	var verrs *ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, 1, verrs.Len())
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	assert.Equal(t, "no validation errors", errs.Error())
	assert.NoError(t, errs.AsError())

	errs.Add("speed", "too fast")
	assert.Equal(t, "speed: too fast", errs.Error())

	errs.Add("", "broken")
	assert.Contains(t, errs.Error(), "2 validation errors")
	assert.Contains(t, errs.Error(), "  - broken")
}
