package flow

import "testing"

func TestSchemaRegistry_Validate(t *testing.T) {
	schemas := MustSchemaRegistry()

	t.Run("agent requires userQuery", func(t *testing.T) {
		if err := schemas.Validate(NodeClaudeAgent, map[string]any{}); err == nil {
			t.Error("empty agent config accepted")
		}
		if err := schemas.Validate(NodeClaudeAgent, map[string]any{"userQuery": "go"}); err != nil {
			t.Errorf("minimal agent config rejected: %v", err)
		}
	})

	t.Run("enum enforcement", func(t *testing.T) {
		err := schemas.Validate(NodeMerge, map[string]any{"strategy": "quorum"})
		if err == nil {
			t.Error("unknown merge strategy accepted")
		}
	})

	t.Run("type enforcement", func(t *testing.T) {
		err := schemas.Validate(NodeClaudeAgent, map[string]any{"userQuery": "go", "maxTurns": "five"})
		if err == nil {
			t.Error("string maxTurns accepted")
		}
	})

	t.Run("unknown type accepts anything", func(t *testing.T) {
		if err := schemas.Validate(NodeType("mystery"), map[string]any{"x": 1}); err != nil {
			t.Errorf("unregistered type rejected: %v", err)
		}
	})
}

func TestSchemaRegistry_Paths(t *testing.T) {
	schemas := MustSchemaRegistry()

	t.Run("HasPath", func(t *testing.T) {
		cases := []struct {
			path string
			want bool
		}{
			{"userQuery", true},
			{"outputConfig.format", true},
			{"rejectionHandler.maxRetries", true},
			{"tools.0", true},
			{"nonexistent", false},
			{"outputConfig.bogus", false},
		}
		for _, tc := range cases {
			if got := schemas.HasPath(NodeClaudeAgent, tc.path); got != tc.want {
				t.Errorf("HasPath(%q) = %v, want %v", tc.path, got, tc.want)
			}
		}
	})

	t.Run("TypeAt", func(t *testing.T) {
		if typ, ok := schemas.TypeAt(NodeClaudeAgent, "maxTurns"); !ok || typ != "number" {
			t.Errorf("TypeAt(maxTurns) = %q, %v", typ, ok)
		}
		if typ, ok := schemas.TypeAt(NodeClaudeAgent, "rejectionHandler.continueSession"); !ok || typ != "boolean" {
			t.Errorf("TypeAt(continueSession) = %q, %v", typ, ok)
		}
	})

	t.Run("RequiredFields", func(t *testing.T) {
		fields := schemas.RequiredFields(NodeApproval)
		want := map[string]bool{"promptMessage": true, "inputSelections": true}
		if len(fields) != len(want) {
			t.Fatalf("RequiredFields = %v", fields)
		}
		for _, f := range fields {
			if !want[f] {
				t.Errorf("unexpected required field %q", f)
			}
		}
	})

	t.Run("HasProperty", func(t *testing.T) {
		if !schemas.HasProperty(NodeClaudeAgent, "model") {
			t.Error("agent schema should declare model")
		}
		if schemas.HasProperty(NodeInput, "model") {
			t.Error("input schema should not declare model")
		}
	})
}

func TestMatchesJSONType(t *testing.T) {
	cases := []struct {
		value any
		typ   string
		want  bool
	}{
		{"x", "string", true},
		{float64(1), "number", true},
		{"x", "number", false},
		{true, "boolean", true},
		{map[string]any{}, "object", true},
		{[]any{}, "array", true},
		{nil, "null", true},
		{"anything", "unknown-type", true},
	}
	for _, tc := range cases {
		if got := matchesJSONType(tc.value, tc.typ); got != tc.want {
			t.Errorf("matchesJSONType(%#v, %q) = %v, want %v", tc.value, tc.typ, got, tc.want)
		}
	}
}
