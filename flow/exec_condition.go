package flow

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// conditionExecutor evaluates an ordered rule list against upstream
// outputs and nominates the "true" or "false" handle.
type conditionExecutor struct{}

func (conditionExecutor) Type() NodeType { return NodeCondition }

type conditionRule struct {
	inputReference string
	operator       string
	compareValue   string
	joiner         string
}

func (conditionExecutor) Validate(node *Node) error {
	rules, err := parseConditionRules(node)
	if err != nil {
		return &NodeConfigError{NodeID: node.ID, Message: err.Error()}
	}
	if len(rules) == 0 {
		return &NodeConfigError{NodeID: node.ID, Message: "condition requires at least one rule"}
	}
	for i, rule := range rules {
		if rule.operator == "regex" {
			if _, err := regexp.Compile(rule.compareValue); err != nil {
				return &NodeConfigError{NodeID: node.ID, Message: fmt.Sprintf("rule %d: invalid regex: %v", i, err)}
			}
		}
		if i > 0 && rule.joiner != "and" && rule.joiner != "or" {
			return &NodeConfigError{NodeID: node.ID, Message: fmt.Sprintf("rule %d: joiner must be and/or", i)}
		}
	}
	return nil
}

func (conditionExecutor) Execute(ctx context.Context, node *Node, ec *ExecutionContext, env *ExecEnv) (*ExecResult, error) {
	rules, err := parseConditionRules(node)
	if err != nil {
		return nil, &NodeConfigError{NodeID: node.ID, Message: err.Error()}
	}

	// Left-to-right evaluation with uniform-precedence joiners: "and" and
	// "or" bind equally, each folding into the running result in order.
	var (
		result  bool
		reasons []string
	)
	for i, rule := range rules {
		hit, reason := evaluateRule(rule, ec)
		reasons = append(reasons, reason)
		if i == 0 {
			result = hit
			continue
		}
		if rule.joiner == "or" {
			result = result || hit
		} else {
			result = result && hit
		}
	}

	return &ExecResult{Output: map[string]any{
		"condition": result,
		"reasons":   reasons,
	}}, nil
}

func (conditionExecutor) OutputHandle(res *ExecResult, node *Node) string {
	if out, ok := res.Output.(map[string]any); ok {
		if hit, ok := out["condition"].(bool); ok && hit {
			return "true"
		}
	}
	return "false"
}

func parseConditionRules(node *Node) ([]conditionRule, error) {
	raw, ok := node.Config["rules"].([]any)
	if !ok {
		return nil, fmt.Errorf("rules must be an array")
	}
	rules := make([]conditionRule, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rule %d is not an object", i)
		}
		rule := conditionRule{}
		rule.inputReference, _ = m["inputReference"].(string)
		rule.operator, _ = m["operator"].(string)
		rule.compareValue, _ = m["compareValue"].(string)
		rule.joiner, _ = m["joiner"].(string)
		if rule.inputReference == "" {
			return nil, fmt.Errorf("rule %d: inputReference is required", i)
		}
		if rule.operator == "" {
			return nil, fmt.Errorf("rule %d: operator is required", i)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// evaluateRule resolves the rule's input reference and applies the
// operator. Unresolvable references evaluate as empty values rather than
// failing the node.
func evaluateRule(rule conditionRule, ec *ExecutionContext) (bool, string) {
	ref := strings.Trim(strings.TrimSpace(rule.inputReference), "{}")
	value, _ := ec.ResolveReference(ref)
	left := stringify(value)
	if value == nil {
		left = ""
	}
	right := ec.Interpolate(rule.compareValue)

	hit := applyOperator(rule.operator, value, left, right)
	return hit, fmt.Sprintf("%s %s %q -> %v", rule.inputReference, rule.operator, right, hit)
}

func applyOperator(op string, value any, left, right string) bool {
	switch op {
	case "equals":
		return left == right
	case "not_equals":
		return left != right
	case "contains":
		return strings.Contains(left, right)
	case "not_contains":
		return !strings.Contains(left, right)
	case "greater_than", "less_than", "greater_than_or_equals", "less_than_or_equals":
		// Numeric comparison; a side that does not parse makes the rule
		// false.
		l, lerr := strconv.ParseFloat(strings.TrimSpace(left), 64)
		r, rerr := strconv.ParseFloat(strings.TrimSpace(right), 64)
		if lerr != nil || rerr != nil {
			return false
		}
		switch op {
		case "greater_than":
			return l > r
		case "less_than":
			return l < r
		case "greater_than_or_equals":
			return l >= r
		default:
			return l <= r
		}
	case "is_empty":
		return isEmptyValue(value, left)
	case "is_not_empty":
		return !isEmptyValue(value, left)
	case "regex":
		re, err := regexp.Compile(right)
		if err != nil {
			return false
		}
		return re.MatchString(left)
	}
	return false
}

func isEmptyValue(value any, text string) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return strings.TrimSpace(text) == ""
}
