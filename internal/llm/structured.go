package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// StructuredValidator validates model output against a JSON Schema.
type StructuredValidator struct {
	schema     *jsonschema.Schema
	schemaJSON json.RawMessage
}

// NewStructuredValidator compiles a JSON Schema for validation.
func NewStructuredValidator(schemaJSON json.RawMessage) (*StructuredValidator, error) {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &StructuredValidator{schema: schema, schemaJSON: schemaJSON}, nil
}

// SchemaJSON returns the raw schema for prompt injection.
func (sv *StructuredValidator) SchemaJSON() json.RawMessage {
	return sv.schemaJSON
}

// ValidationError describes a schema validation failure.
type ValidationError struct {
	Message string
	Raw     string
}

func (e *ValidationError) Error() string { return e.Message }

// Validate extracts JSON from the model's reply and checks it against
// the schema, returning the extracted JSON string on success.
func (sv *StructuredValidator) Validate(responseText string) (string, error) {
	jsonStr := ExtractJSON(responseText)
	if jsonStr == "" {
		return "", &ValidationError{
			Message: "response does not contain valid JSON",
			Raw:     responseText,
		}
	}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return "", &ValidationError{
			Message: fmt.Sprintf("invalid JSON: %s", err),
			Raw:     responseText,
		}
	}

	if err := sv.schema.Validate(parsed); err != nil {
		return "", &ValidationError{
			Message: fmt.Sprintf("schema validation failed: %s", err),
			Raw:     responseText,
		}
	}
	return jsonStr, nil
}

// CompleteStructured asks for a completion and validates the reply
// against the schema. One corrective re-prompt is attempted before the
// validation error surfaces.
func (c *Client) CompleteStructured(ctx context.Context, messages []Message, validator *StructuredValidator) (string, error) {
	reply, err := c.Complete(ctx, messages)
	if err != nil {
		return "", err
	}

	jsonStr, valErr := validator.Validate(reply)
	if valErr == nil {
		return jsonStr, nil
	}

	c.logger.Warn("structured reply invalid, re-prompting", "error", valErr.Error())
	retry := append(append([]Message{}, messages...),
		Message{Role: "assistant", Content: reply},
		Message{Role: "user", Content: fmt.Sprintf(
			"Your reply did not match the required JSON schema. Error: %s\n\nReply again with only valid JSON matching the schema.",
			valErr.Error())},
	)
	reply, err = c.Complete(ctx, retry)
	if err != nil {
		return "", err
	}
	return validator.Validate(reply)
}

// ExtractJSON finds a JSON object or array in the response text,
// checking fenced blocks before scanning for balanced braces.
func ExtractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + 7
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if candidate != "" {
				return candidate
			}
		}
	}

	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate
			}
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}

	return ""
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// extractBalanced extracts a balanced JSON structure from the start of
// the string, tracking string literals and escapes.
func extractBalanced(s string) string {
	if len(s) == 0 {
		return ""
	}

	open := s[0]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if ch == open {
			depth++
		} else if ch == close {
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}

	return ""
}
