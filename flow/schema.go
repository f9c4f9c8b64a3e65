package flow

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaRegistry holds one JSON Schema per node type. Node configurations
// are validated against the compiled schema before execution, and the
// evolution validator consults the raw documents for path and type checks.
type SchemaRegistry struct {
	docs     map[NodeType]map[string]any
	compiled map[NodeType]*jsonschema.Schema
}

// NewSchemaRegistry compiles the built-in per-type schemas.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	r := &SchemaRegistry{
		docs:     builtinSchemas(),
		compiled: make(map[NodeType]*jsonschema.Schema, len(builtinSchemas())),
	}
	for t, doc := range r.docs {
		c := jsonschema.NewCompiler()
		name := string(t) + ".json"
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("schema %s: add resource: %w", t, err)
		}
		schema, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("schema %s: compile: %w", t, err)
		}
		r.compiled[t] = schema
	}
	return r, nil
}

// MustSchemaRegistry is NewSchemaRegistry for static initialization; the
// built-in schemas are constants so compilation cannot fail at runtime.
func MustSchemaRegistry() *SchemaRegistry {
	r, err := NewSchemaRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

// Validate checks a node configuration against its type's schema. Types
// without a registered schema accept any configuration.
func (r *SchemaRegistry) Validate(t NodeType, config map[string]any) error {
	schema, ok := r.compiled[t]
	if !ok {
		return nil
	}
	value := any(config)
	if config == nil {
		value = map[string]any{}
	}
	return schema.Validate(value)
}

// Doc returns the raw schema document for a node type.
func (r *SchemaRegistry) Doc(t NodeType) (map[string]any, bool) {
	doc, ok := r.docs[t]
	return doc, ok
}

// HasProperty reports whether the type's schema declares a top-level
// property with the given name.
func (r *SchemaRegistry) HasProperty(t NodeType, name string) bool {
	doc, ok := r.docs[t]
	if !ok {
		return false
	}
	props, _ := doc["properties"].(map[string]any)
	_, ok = props[name]
	return ok
}

// HasPath reports whether the dotted path exists in the type's schema,
// descending through object properties and array items.
func (r *SchemaRegistry) HasPath(t NodeType, path string) bool {
	_, ok := r.schemaAt(t, path)
	return ok
}

// TypeAt returns the declared JSON type at the dotted path ("string",
// "number", "boolean", "object", "array"), when the path exists and the
// schema declares a type.
func (r *SchemaRegistry) TypeAt(t NodeType, path string) (string, bool) {
	node, ok := r.schemaAt(t, path)
	if !ok {
		return "", false
	}
	typ, ok := node["type"].(string)
	return typ, ok
}

// RequiredFields returns the type's top-level required property names.
func (r *SchemaRegistry) RequiredFields(t NodeType) []string {
	doc, ok := r.docs[t]
	if !ok {
		return nil
	}
	raw, _ := doc["required"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// schemaAt walks the raw schema document along a dotted config path.
// Integer segments descend into array item schemas.
func (r *SchemaRegistry) schemaAt(t NodeType, path string) (map[string]any, bool) {
	doc, ok := r.docs[t]
	if !ok {
		return nil, false
	}
	current := doc
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}
		if isIndexSegment(seg) {
			items, ok := current["items"].(map[string]any)
			if !ok {
				return nil, false
			}
			current = items
			continue
		}
		props, ok := current["properties"].(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := props[seg].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func isIndexSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// matchesJSONType reports whether a decoded JSON value conforms to a
// declared schema type name.
func matchesJSONType(value any, typ string) bool {
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "null":
		return value == nil
	}
	return true
}

func builtinSchemas() map[NodeType]map[string]any {
	str := func() map[string]any { return map[string]any{"type": "string"} }
	num := func() map[string]any { return map[string]any{"type": "number"} }
	boolean := func() map[string]any { return map[string]any{"type": "boolean"} }
	strArray := func() map[string]any {
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	}

	agent := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"userQuery":        str(),
			"model":            str(),
			"systemPrompt":     str(),
			"tools":            strArray(),
			"mcpServers":       strArray(),
			"workingDirectory": str(),
			"maxTurns":         num(),
			"timeout":          num(),
			"conversationMode": map[string]any{
				"type": "string",
				"enum": []any{"fresh", "persist"},
			},
			"outputConfig": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"format": map[string]any{
						"type": "string",
						"enum": []any{"text", "json"},
					},
					"schema": map[string]any{"type": "object"},
				},
			},
			"rejectionHandler": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"maxRetries":       num(),
					"continueSession":  boolean(),
					"feedbackTemplate": str(),
					"onMaxRetries": map[string]any{
						"type": "string",
						"enum": []any{"fail", "skip", "approve-anyway"},
					},
				},
			},
		},
		"required": []any{"userQuery"},
	}

	return map[NodeType]map[string]any{
		NodeInput: {
			"type": "object",
			"properties": map[string]any{
				"description": str(),
			},
		},
		NodeOutput: {
			"type": "object",
			"properties": map[string]any{
				"description": str(),
			},
		},
		NodeClaudeAgent: agent,
		NodeCodexAgent:  agent,
		NodeCondition: {
			"type": "object",
			"properties": map[string]any{
				"rules": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"inputReference": str(),
							"operator": map[string]any{
								"type": "string",
								"enum": []any{
									"equals", "not_equals", "contains", "not_contains",
									"greater_than", "less_than",
									"greater_than_or_equals", "less_than_or_equals",
									"is_empty", "is_not_empty", "regex",
								},
							},
							"compareValue": str(),
							"joiner": map[string]any{
								"type": "string",
								"enum": []any{"and", "or"},
							},
						},
						"required": []any{"inputReference", "operator"},
					},
				},
			},
			"required": []any{"rules"},
		},
		NodeMerge: {
			"type": "object",
			"properties": map[string]any{
				"strategy": map[string]any{
					"type": "string",
					"enum": []any{"wait-all", "first-complete"},
				},
			},
		},
		NodeJavaScript: {
			"type": "object",
			"properties": map[string]any{
				"code":    str(),
				"timeout": num(),
				"inputMappings": map[string]any{
					"type": "object",
				},
			},
			"required": []any{"code"},
		},
		NodeApproval: {
			"type": "object",
			"properties": map[string]any{
				"promptMessage":  str(),
				"feedbackPrompt": str(),
				"timeoutMinutes": num(),
				"timeoutAction": map[string]any{
					"type": "string",
					"enum": []any{"approve", "reject", "fail"},
				},
				"inputSelections": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"nodeId":   str(),
							"nodeName": str(),
							"fields":   strArray(),
						},
					},
				},
			},
			"required": []any{"promptMessage", "inputSelections"},
		},
		NodeSelfReflect: {
			"type": "object",
			"properties": map[string]any{
				"reflectionGoal": str(),
				"agentType": map[string]any{
					"type": "string",
					"enum": []any{"claude", "codex"},
				},
				"model": str(),
				"evolutionMode": map[string]any{
					"type": "string",
					"enum": []any{"suggest", "auto-apply", "dry-run"},
				},
				"scope": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "string",
						"enum": []any{"prompts", "models", "tools", "nodes", "edges", "parameters"},
					},
				},
				"maxMutations":       num(),
				"includeTranscripts": boolean(),
				"systemPrompt":       str(),
			},
			"required": []any{"reflectionGoal"},
		},
	}
}
