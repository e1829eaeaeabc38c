package compliance

import (
	"fmt"
	"strconv"
	"strings"
)

// The condition DSL is deliberately minimal: comparisons (`>`, `<`, `==`,
// `!=`) over named variables, combined with `&&` and `||`, plus the literals
// `true`, `false`, and `always`. There is no operator precedence and no
// grouping: the expression is split on `||` first, each alternative is split
// on `&&`, and the resulting comparison terms are evaluated left to right.
// This preserves the literal split semantics of the original rule format
// rather than promoting it to a full expression grammar.

// node is a compiled condition fragment.
type node interface {
	eval(vars map[string]any) (bool, error)
}

// orNode is true when any alternative is true.
type orNode struct {
	alts []node
}

func (n orNode) eval(vars map[string]any) (bool, error) {
	for _, alt := range n.alts {
		ok, err := alt.eval(vars)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// andNode is true when every term is true.
type andNode struct {
	terms []node
}

func (n andNode) eval(vars map[string]any) (bool, error) {
	for _, term := range n.terms {
		ok, err := term.eval(vars)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// litNode is a constant truth value (`true`, `false`, `always`).
type litNode bool

func (n litNode) eval(map[string]any) (bool, error) { return bool(n), nil }

// cmpNode compares a variable against a literal.
type cmpNode struct {
	variable string
	op       string
	raw      string // literal as written
}

func (n cmpNode) eval(vars map[string]any) (bool, error) {
	val, ok := vars[n.variable]
	if !ok {
		return false, fmt.Errorf("unknown variable %q", n.variable)
	}

	switch v := val.(type) {
	case float64:
		rhs, err := strconv.ParseFloat(n.raw, 64)
		if err != nil {
			return false, fmt.Errorf("variable %q is numeric, literal %q is not", n.variable, n.raw)
		}
		switch n.op {
		case ">":
			return v > rhs, nil
		case "<":
			return v < rhs, nil
		case "==":
			return v == rhs, nil
		case "!=":
			return v != rhs, nil
		}
	case bool:
		rhs, err := strconv.ParseBool(n.raw)
		if err != nil {
			return false, fmt.Errorf("variable %q is boolean, literal %q is not", n.variable, n.raw)
		}
		switch n.op {
		case "==":
			return v == rhs, nil
		case "!=":
			return v != rhs, nil
		default:
			return false, fmt.Errorf("operator %q not defined for booleans", n.op)
		}
	case string:
		rhs := strings.Trim(n.raw, `'"`)
		switch n.op {
		case "==":
			return v == rhs, nil
		case "!=":
			return v != rhs, nil
		default:
			return false, fmt.Errorf("operator %q not defined for strings", n.op)
		}
	}
	return false, fmt.Errorf("unsupported operator %q", n.op)
}

// compile parses a condition string into an evaluable node.
func compile(condition string) (node, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil, fmt.Errorf("empty condition")
	}

	switch strings.ToLower(condition) {
	case "always", "true":
		return litNode(true), nil
	case "false":
		return litNode(false), nil
	}

	var alts []node
	for _, alt := range strings.Split(condition, "||") {
		var terms []node
		for _, term := range strings.Split(alt, "&&") {
			cmp, err := compileComparison(term)
			if err != nil {
				return nil, err
			}
			terms = append(terms, cmp)
		}
		alts = append(alts, andNode{terms: terms})
	}
	return orNode{alts: alts}, nil
}

// compileComparison parses one `variable op literal` term.
func compileComparison(term string) (node, error) {
	term = strings.TrimSpace(term)

	switch strings.ToLower(term) {
	case "always", "true":
		return litNode(true), nil
	case "false":
		return litNode(false), nil
	}

	// Two-char operators first so "==" is not read as two "=".
	for _, op := range []string{"==", "!=", ">", "<"} {
		idx := strings.Index(term, op)
		if idx < 0 {
			continue
		}
		variable := strings.TrimSpace(term[:idx])
		literal := strings.TrimSpace(term[idx+len(op):])
		if variable == "" || literal == "" {
			return nil, fmt.Errorf("malformed comparison %q", term)
		}
		return cmpNode{variable: variable, op: op, raw: literal}, nil
	}
	return nil, fmt.Errorf("no comparison operator in %q", term)
}
