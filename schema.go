package promptnode

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

func GenerateInputSchema[T any]() (map[string]any, error) {
	var v T
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	bs, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(bs, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w (schema=%q)", err, string(bs))
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m, nil
}

// InputSchema returns the JSON Schema of the parameters of kind.
func InputSchema(kind OperationKind) (map[string]any, error) {
	switch kind {
	case OperationAnalyzeImage:
		return GenerateInputSchema[AnalyzeImageParams]()
	case OperationExpandPrompt:
		return GenerateInputSchema[ExpandPromptParams]()
	case OperationTranslatePrompt:
		return GenerateInputSchema[TranslatePromptParams]()
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidParameter, kind)
	}
}

type PayloadValidationError struct {
	Result *gojsonschema.Result
}

func (e *PayloadValidationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Errors()))
	for _, re := range e.Result.Errors() {
		msgs = append(msgs, re.String())
	}
	return fmt.Sprintf("payload validation error: %s", strings.Join(msgs, "; "))
}

func (e *PayloadValidationError) Unwrap() error {
	return ErrInvalidParameter
}

// ValidatePayload validates payload against the input schema of kind.
func ValidatePayload(kind OperationKind, payload any) error {
	schema, err := InputSchema(kind)
	if err != nil {
		return err
	}
	sl := gojsonschema.NewGoLoader(schema)
	dl := gojsonschema.NewGoLoader(payload)
	result, err := gojsonschema.Validate(sl, dl)
	if err != nil {
		return fmt.Errorf("%w: validate payload: %w", ErrInvalidParameter, err)
	}
	if !result.Valid() {
		return &PayloadValidationError{Result: result}
	}
	return nil
}

// DecodeOperation validates payload and decodes it into the parameters of kind.
func DecodeOperation(kind OperationKind, payload any) (Operation, error) {
	if err := ValidatePayload(kind, payload); err != nil {
		return nil, err
	}
	switch kind {
	case OperationAnalyzeImage:
		return decodeParams[AnalyzeImageParams](payload)
	case OperationExpandPrompt:
		return decodeParams[ExpandPromptParams](payload)
	case OperationTranslatePrompt:
		return decodeParams[TranslatePromptParams](payload)
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidParameter, kind)
	}
}

func decodeParams[T Operation](payload any) (Operation, error) {
	var params T
	if err := remarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}
	return params, nil
}

func remarshal(v1, v2 any) error {
	b1, err := json.Marshal(v1)
	if err != nil {
		return fmt.Errorf("marshal v1: %w", err)
	}
	if err := json.Unmarshal(b1, v2); err != nil {
		return fmt.Errorf("unmarshal v2: %w", err)
	}
	return nil
}

// ExamplePayload builds a payload from schema: defaults first, then examples,
// then the first enum value, then a placeholder for the type.
func ExamplePayload(schema map[string]any) any {
	if v, ok := schema["default"]; ok {
		return v
	}
	if examples, ok := schema["examples"].([]any); ok && len(examples) > 0 {
		return examples[0]
	}
	if enumValues, ok := schema["enum"].([]any); ok && len(enumValues) > 0 {
		return enumValues[0]
	}
	switch schema["type"] {
	case "string":
		return "example_string"
	case "number":
		return 1.0
	case "integer":
		return 1
	case "boolean":
		return false
	case "array":
		if items, ok := schema["items"].(map[string]any); ok {
			return []any{ExamplePayload(items)}
		}
		return []any{}
	case "object":
		data := make(map[string]any)
		properties, _ := schema["properties"].(map[string]any)
		keys := make([]string, 0, len(properties))
		for key := range properties {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			if prop, ok := properties[key].(map[string]any); ok {
				data[key] = ExamplePayload(prop)
			}
		}
		return data
	default:
		return nil
	}
}
