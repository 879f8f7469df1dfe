package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lucasb-eyer/go-colorful"
)

// Validator validates settings documents against a schema.
type Validator struct {
	schema *Schema

	maxErrors int // Maximum errors to collect (0 = unlimited)

	// Pattern cache
	patternCache sync.Map // map[string]*regexp.Regexp
}

// NewValidator creates a validator for the given schema. A nil schema
// accepts every document.
func NewValidator(schema *Schema) *Validator {
	return &Validator{
		schema:    schema,
		maxErrors: 100,
	}
}

// WithMaxErrors sets the maximum number of errors to collect.
func (v *Validator) WithMaxErrors(max int) *Validator {
	v.maxErrors = max
	return v
}

// Validate validates a settings document against the schema.
// The returned error, if any, is a *ValidationErrors.
func (v *Validator) Validate(doc map[string]any) error {
	if v.schema == nil {
		return nil
	}

	errs := &ValidationErrors{}
	v.validateValue("", normalize(doc), v.schema, errs)
	return errs.AsError()
}

// validateValue validates a value against a schema.
func (v *Validator) validateValue(path string, value any, schema *Schema, errs *ValidationErrors) {
	if schema == nil || (v.maxErrors > 0 && errs.Len() >= v.maxErrors) {
		return
	}

	if schema.Ref != "" {
		if ref := v.resolveRef(schema.Ref); ref != nil {
			v.validateValue(path, value, ref, errs)
		} else {
			errs.Add(path, fmt.Sprintf("unresolved reference %q", schema.Ref))
		}
		return
	}

	if len(schema.AnyOf) > 0 && v.countMatches(path, value, schema.AnyOf) == 0 {
		errs.Add(path, "value does not match any of the allowed schemas")
	}

	if len(schema.OneOf) > 0 {
		switch n := v.countMatches(path, value, schema.OneOf); {
		case n == 0:
			errs.Add(path, "value does not match any of the allowed schemas")
		case n > 1:
			errs.Add(path, "value matches more than one schema (must match exactly one)")
		}
	}

	if schema.Not != nil && v.countMatches(path, value, []*Schema{schema.Not}) == 1 {
		errs.Add(path, "value should not match the schema")
	}

	if schema.Const != nil && !valuesEqual(value, schema.Const) {
		errs.AddValue(path, fmt.Sprintf("value must be %v", schema.Const), value)
	}

	if len(schema.Enum) > 0 {
		v.validateEnum(path, value, schema.Enum, errs)
	}

	if !schema.Type.IsEmpty() {
		v.validateType(path, value, schema, errs)
	}
}

func (v *Validator) countMatches(path string, value any, schemas []*Schema) int {
	n := 0
	for _, s := range schemas {
		trial := &ValidationErrors{}
		v.validateValue(path, value, s, trial)
		if !trial.HasErrors() {
			n++
		}
	}
	return n
}

// validateType validates the value against the expected type(s).
func (v *Validator) validateType(path string, value any, schema *Schema, errs *ValidationErrors) {
	if value == nil {
		if !schema.Type.Is(TypeNameNull) {
			errs.Add(path, fmt.Sprintf("expected %s, got null", schema.Type))
		}
		return
	}

	for _, typ := range schema.Type.Types {
		if !matchesType(value, typ) {
			continue
		}
		switch typ {
		case TypeNameString:
			v.validateString(path, value.(string), schema, errs)
		case TypeNameNumber, TypeNameInteger:
			v.validateNumber(path, value.(float64), schema, errs)
		case TypeNameArray:
			v.validateArray(path, value.([]any), schema, errs)
		case TypeNameObject:
			v.validateObject(path, value.(map[string]any), schema, errs)
		}
		return
	}

	errs.AddValue(path, fmt.Sprintf("expected %s, got %s", schema.Type, typeName(value)), value)
}

// validateString validates string-specific constraints.
func (v *Validator) validateString(path string, value string, schema *Schema, errs *ValidationErrors) {
	n := len([]rune(value))
	if schema.MinLength != nil && n < *schema.MinLength {
		errs.Add(path, fmt.Sprintf("string length %d is less than minimum %d", n, *schema.MinLength))
	}
	if schema.MaxLength != nil && n > *schema.MaxLength {
		errs.Add(path, fmt.Sprintf("string length %d is greater than maximum %d", n, *schema.MaxLength))
	}
	if schema.Pattern != "" && !v.matchPattern(value, schema.Pattern) {
		errs.AddValue(path, fmt.Sprintf("value does not match pattern: %s", schema.Pattern), value)
	}
	if schema.Format != "" {
		validateFormat(path, value, schema.Format, errs)
	}
}

// validateNumber validates numeric constraints.
func (v *Validator) validateNumber(path string, f float64, schema *Schema, errs *ValidationErrors) {
	if schema.Minimum != nil && f < *schema.Minimum {
		errs.AddValue(path, fmt.Sprintf("value %v is less than minimum %v", f, *schema.Minimum), f)
	}
	if schema.Maximum != nil && f > *schema.Maximum {
		errs.AddValue(path, fmt.Sprintf("value %v is greater than maximum %v", f, *schema.Maximum), f)
	}
	if schema.ExclusiveMinimum != nil && f <= *schema.ExclusiveMinimum {
		errs.AddValue(path, fmt.Sprintf("value must be greater than %v", *schema.ExclusiveMinimum), f)
	}
	if schema.ExclusiveMaximum != nil && f >= *schema.ExclusiveMaximum {
		errs.AddValue(path, fmt.Sprintf("value must be less than %v", *schema.ExclusiveMaximum), f)
	}
	if schema.MultipleOf != nil && *schema.MultipleOf != 0 {
		if math.Abs(math.Remainder(f, *schema.MultipleOf)) > 1e-10 {
			errs.AddValue(path, fmt.Sprintf("value must be a multiple of %v", *schema.MultipleOf), f)
		}
	}
}

// validateArray validates array constraints.
func (v *Validator) validateArray(path string, arr []any, schema *Schema, errs *ValidationErrors) {
	if schema.MinItems != nil && len(arr) < *schema.MinItems {
		errs.Add(path, fmt.Sprintf("array has %d items, minimum is %d", len(arr), *schema.MinItems))
	}
	if schema.MaxItems != nil && len(arr) > *schema.MaxItems {
		errs.Add(path, fmt.Sprintf("array has %d items, maximum is %d", len(arr), *schema.MaxItems))
	}

	if schema.UniqueItems {
		seen := make(map[string]bool, len(arr))
		for i, item := range arr {
			key, err := json.Marshal(item)
			if err != nil {
				key = fmt.Appendf(nil, "%v", item)
			}
			if seen[string(key)] {
				errs.Add(path, fmt.Sprintf("array items must be unique, duplicate at index %d", i))
				break
			}
			seen[string(key)] = true
		}
	}

	if schema.Items != nil {
		for i, item := range arr {
			v.validateValue(fmt.Sprintf("%s[%d]", path, i), item, schema.Items, errs)
		}
	}
}

// validateObject validates object constraints.
func (v *Validator) validateObject(path string, obj map[string]any, schema *Schema, errs *ValidationErrors) {
	for _, req := range schema.Required {
		if _, exists := obj[req]; !exists {
			errs.Add(joinPath(path, req), "required field is missing")
		}
	}

	for name, propValue := range obj {
		propPath := joinPath(path, name)
		if propSchema, ok := schema.Properties[name]; ok {
			v.validateValue(propPath, propValue, propSchema, errs)
		} else if !schema.AllowsAdditionalProperties() {
			errs.Add(propPath, "unknown property")
		}
	}
}

// validateEnum checks if value is in the allowed enum values.
func (v *Validator) validateEnum(path string, value any, allowed []any, errs *ValidationErrors) {
	for _, a := range allowed {
		if valuesEqual(value, a) {
			return
		}
	}
	errs.AddValue(path, fmt.Sprintf("value %v is not one of allowed values: %v", value, allowed), value)
}

// resolveRef resolves a #/$defs/Name reference against the root schema.
func (v *Validator) resolveRef(ref string) *Schema {
	name, ok := strings.CutPrefix(ref, "#/$defs/")
	if !ok || v.schema.Defs == nil {
		return nil
	}
	return v.schema.Defs[name]
}

// matchPattern checks if a string matches a regex pattern.
func (v *Validator) matchPattern(value, pattern string) bool {
	if cached, ok := v.patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(value)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}

	v.patternCache.Store(pattern, re)
	return re.MatchString(value)
}

// validateFormat validates string formats. Unknown formats are ignored.
func validateFormat(path, value, format string, errs *ValidationErrors) {
	switch format {
	case FormatColor:
		if _, err := colorful.Hex(value); err != nil {
			errs.AddValue(path, fmt.Sprintf("invalid color format: %s", value), value)
		}
	case FormatDuration:
		if _, err := time.ParseDuration(value); err != nil {
			errs.AddValue(path, fmt.Sprintf("invalid duration format: %s", value), value)
		}
	case FormatURI:
		if u, err := url.Parse(value); err != nil || u.Scheme == "" {
			errs.AddValue(path, fmt.Sprintf("invalid URI format: %s", value), value)
		}
	case FormatEmail:
		if _, err := mail.ParseAddress(value); err != nil {
			errs.AddValue(path, fmt.Sprintf("invalid email format: %s", value), value)
		}
	case FormatRegex:
		if _, err := regexp.Compile(value); err != nil {
			errs.AddValue(path, fmt.Sprintf("invalid regex: %s", value), value)
		}
	}
}

// normalize converts Go numeric types to float64 and typed slices/maps to
// their generic forms so documents coming from Lua and from JSON validate
// the same way.
func normalize(value any) any {
	switch val := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint8:
		return float64(val)
	case uint32:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return val.String()
		}
		return f
	default:
		return value
	}
}

func matchesType(value any, typ string) bool {
	switch typ {
	case TypeNameString:
		_, ok := value.(string)
		return ok
	case TypeNameNumber:
		_, ok := value.(float64)
		return ok
	case TypeNameInteger:
		f, ok := value.(float64)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case TypeNameBoolean:
		_, ok := value.(bool)
		return ok
	case TypeNameArray:
		_, ok := value.([]any)
		return ok
	case TypeNameObject:
		_, ok := value.(map[string]any)
		return ok
	case TypeNameNull:
		return value == nil
	default:
		return false
	}
}

func typeName(value any) string {
	switch value.(type) {
	case string:
		return TypeNameString
	case float64:
		return TypeNameNumber
	case bool:
		return TypeNameBoolean
	case []any:
		return TypeNameArray
	case map[string]any:
		return TypeNameObject
	default:
		return fmt.Sprintf("%T", value)
	}
}

func valuesEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if fa, ok := a.(float64); ok {
		fb, ok := b.(float64)
		return ok && fa == fb
	}
	switch a.(type) {
	case []any, map[string]any:
		ja, errA := json.Marshal(a)
		jb, errB := json.Marshal(b)
		return errA == nil && errB == nil && string(ja) == string(jb)
	}
	return reflect.DeepEqual(a, b)
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}
