package templates

import (
	"fmt"
	"strings"

	"github.com/siraevrus/stockyard/internal/attribute"
	"github.com/siraevrus/stockyard/internal/formula"
	"github.com/siraevrus/stockyard/internal/shared"
)

// ValidateValues checks raw attribute inputs against the schema and converts
// them into typed values keyed by attribute name. Unknown attributes, missing
// required ones, malformed numbers and off-list select options all collect
// into a single validation error.
func ValidateValues(schema Schema, raw map[string]string) (map[string]attribute.Value, error) {
	byName := make(map[string]Attribute, len(schema.Attributes))
	for _, attr := range schema.Attributes {
		byName[attr.Name] = attr
	}

	fields := map[string]string{}
	values := make(map[string]attribute.Value, len(raw))

	for name := range raw {
		if _, ok := byName[name]; !ok {
			fields[name] = "not part of the template schema"
		}
	}

	for _, attr := range schema.Attributes {
		rawVal, present := raw[attr.Name]
		if !present || strings.TrimSpace(rawVal) == "" {
			if attr.Required {
				fields[attr.Name] = "required"
			}
			continue
		}
		val, err := attribute.Parse(attr.Kind, rawVal)
		if err != nil {
			fields[attr.Name] = err.Error()
			continue
		}
		if attr.Kind == attribute.KindSelect && !containsOption(attr.Options, rawVal) {
			fields[attr.Name] = fmt.Sprintf("%q is not an allowed option", rawVal)
			continue
		}
		values[attr.Name] = val
	}

	if len(fields) > 0 {
		return nil, shared.NewValidationErrors(fields)
	}
	return values, nil
}

// FormulaVars extracts the numeric variables a template formula may reference,
// keyed by the attribute's variable name.
func FormulaVars(schema Schema, values map[string]attribute.Value) map[string]float64 {
	vars := map[string]float64{}
	for _, attr := range schema.Attributes {
		if !attr.InFormula {
			continue
		}
		val, ok := values[attr.Name]
		if !ok {
			continue
		}
		if num, ok := val.Number(); ok {
			vars[attr.Variable] = num
		}
	}
	return vars
}

// ComputeVolume evaluates the template formula against the given values.
// Templates without a formula yield no volume.
func ComputeVolume(schema Schema, values map[string]attribute.Value) (*float64, error) {
	if schema.Template.Formula == "" {
		return nil, nil
	}
	result, err := formula.Evaluate(schema.Template.Formula, FormulaVars(schema, values))
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func containsOption(options []string, v string) bool {
	for _, opt := range options {
		if opt == v {
			return true
		}
	}
	return false
}
