package proxy

import (
	"fmt"
	"math"

	"github.com/dhannusch/pincer/internal/manifest"
)

// validateInput checks input against schema: required keys, per-
// property type/bounds, and the unknown-key rule (rejected unless
// additionalProperties is true). It mirrors step 5 of the egress
// proxy's contract exactly.
func validateInput(schema manifest.InputSchema, input map[string]any) []string {
	var errs []string

	for _, req := range schema.Required {
		if _, ok := input[req]; !ok {
			errs = append(errs, fmt.Sprintf("missing required property %q", req))
		}
	}

	for key, value := range input {
		prop, declared := schema.Properties[key]
		if !declared {
			if !schema.AdditionalProperties {
				errs = append(errs, fmt.Sprintf("unknown property %q", key))
			}
			continue
		}
		if err := validateProperty(key, prop, value); err != "" {
			errs = append(errs, err)
		}
	}

	return errs
}

func validateProperty(key string, prop manifest.Property, value any) string {
	switch prop.Type {
	case manifest.PropertyString:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("property %q must be a string", key)
		}
		if prop.MinLength != nil && len(s) < *prop.MinLength {
			return fmt.Sprintf("property %q must have length >= %d", key, *prop.MinLength)
		}
		if prop.MaxLength != nil && len(s) > *prop.MaxLength {
			return fmt.Sprintf("property %q must have length <= %d", key, *prop.MaxLength)
		}
		if len(prop.Enum) > 0 && !enumContains(prop.Enum, s) {
			return fmt.Sprintf("property %q must be one of the declared enum values", key)
		}

	case manifest.PropertyInteger:
		f, ok := asFloat(value)
		if !ok || f != math.Trunc(f) {
			return fmt.Sprintf("property %q must be an integer", key)
		}
		if err := validateNumericBounds(key, prop, f); err != "" {
			return err
		}

	case manifest.PropertyNumber:
		f, ok := asFloat(value)
		if !ok || math.IsInf(f, 0) || math.IsNaN(f) {
			return fmt.Sprintf("property %q must be a finite number", key)
		}
		if err := validateNumericBounds(key, prop, f); err != "" {
			return err
		}

	case manifest.PropertyBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("property %q must be a boolean", key)
		}
	}
	return ""
}

func validateNumericBounds(key string, prop manifest.Property, f float64) string {
	if prop.Minimum != nil && f < *prop.Minimum {
		return fmt.Sprintf("property %q must be >= %v", key, *prop.Minimum)
	}
	if prop.Maximum != nil && f > *prop.Maximum {
		return fmt.Sprintf("property %q must be <= %v", key, *prop.Maximum)
	}
	return ""
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func enumContains(enum []any, s string) bool {
	for _, e := range enum {
		if es, ok := e.(string); ok && es == s {
			return true
		}
	}
	return false
}
