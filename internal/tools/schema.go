package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// validateArgs checks model-supplied arguments against a tool's declared
// object schema: required fields must be present and non-null, and declared
// property types must match. Unknown extra properties are tolerated.
//
// The schemas here are simple object contracts, so a full JSON-schema
// engine is deliberately not pulled in.
func validateArgs(schema, args json.RawMessage) string {
	var decl struct {
		Type       string `json:"type"`
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &decl); err != nil {
		return fmt.Sprintf("unusable tool schema: %v", err)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var got map[string]json.RawMessage
	if err := json.Unmarshal(args, &got); err != nil {
		return fmt.Sprintf("arguments are not a JSON object: %v", err)
	}

	var problems []string
	for _, req := range decl.Required {
		v, ok := got[req]
		if !ok || isJSONNull(v) {
			problems = append(problems, fmt.Sprintf("missing required argument %q", req))
		}
	}

	for name, raw := range got {
		prop, ok := decl.Properties[name]
		if !ok || isJSONNull(raw) {
			continue
		}
		if prop.Type != "" && !typeMatches(prop.Type, raw) {
			problems = append(problems, fmt.Sprintf("argument %q must be a %s", name, prop.Type))
		}
	}

	return strings.Join(problems, "; ")
}

func isJSONNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func typeMatches(declared string, raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return false
	}
	switch declared {
	case "string":
		return s[0] == '"'
	case "boolean":
		return s == "true" || s == "false"
	case "object":
		return s[0] == '{'
	case "array":
		return s[0] == '['
	case "number":
		return s[0] == '-' || (s[0] >= '0' && s[0] <= '9')
	case "integer":
		if s[0] != '-' && (s[0] < '0' || s[0] > '9') {
			return false
		}
		return !strings.ContainsAny(s, ".eE")
	default:
		return true
	}
}
