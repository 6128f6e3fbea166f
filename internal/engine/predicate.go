package engine

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Predicate evaluates whether an alert args map satisfies a condition.
type Predicate func(args map[string]any) (bool, error)

type operator string

const (
	opEq       operator = "=="
	opNe       operator = "!="
	opGte      operator = ">="
	opLte      operator = "<="
	opGt       operator = ">"
	opLt       operator = "<"
	opIn       operator = "in"
	opNotIn    operator = "not in"
	opContains operator = "contains"
)

// word operators need surrounding spaces; "not in" must be tried before "in".
var (
	wordOps   = []operator{opNotIn, opIn, opContains}
	symbolOps = []operator{opEq, opNe, opGte, opLte, opGt, opLt}
)

// condition is one parsed "field op operand" expression.
type condition struct {
	field string
	op    operator
	text  string
	num   decimal.Decimal
	isNum bool
	set   map[string]struct{}
}

// CompilePredicates parses alert filter expressions. Numeric operands are
// compared exactly as decimals, so "value > 100" means more than 100 whole
// coins with no float rounding. Examples:
//
//	"value > 100"
//	"gas_price >= 5 * 10"
//	"from in 0xabc,0xdef"
//	"to not in 0x111"
//	"protocol contains venus"
func CompilePredicates(exprs []string) ([]Predicate, error) {
	var preds []Predicate
	for _, raw := range exprs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		c, err := parseCondition(raw)
		if err != nil {
			return nil, err
		}
		preds = append(preds, c.eval)
	}
	return preds, nil
}

func parseCondition(expr string) (condition, error) {
	field, op, operand, ok := splitExpr(expr)
	if !ok {
		return condition{}, fmt.Errorf("unsupported expression: %s", expr)
	}
	if field == "" || operand == "" {
		return condition{}, fmt.Errorf("invalid %s expression: %s", op, expr)
	}
	c := condition{field: field, op: op, text: operand}

	switch op {
	case opIn, opNotIn:
		c.set = map[string]struct{}{}
		for _, v := range strings.Split(operand, ",") {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				c.set[v] = struct{}{}
			}
		}
		if len(c.set) == 0 {
			return condition{}, fmt.Errorf("invalid %s expression: %s", op, expr)
		}
	case opContains:
		c.text = strings.ToLower(operand)
	default:
		c.num, c.isNum = parseDecimal(operand)
		if !c.isNum && op != opEq && op != opNe {
			return condition{}, fmt.Errorf("%s needs a numeric operand: %s", op, expr)
		}
	}
	return c, nil
}

func splitExpr(expr string) (field string, op operator, operand string, ok bool) {
	for _, candidate := range wordOps {
		if parts := strings.SplitN(expr, " "+string(candidate)+" ", 2); len(parts) == 2 {
			return strings.TrimSpace(parts[0]), candidate, strings.TrimSpace(parts[1]), true
		}
		// "memo contains " trims to a dangling operator
		if strings.HasSuffix(expr, " "+string(candidate)) {
			return strings.TrimSpace(strings.TrimSuffix(expr, string(candidate))), candidate, "", true
		}
	}
	for _, candidate := range symbolOps {
		if parts := strings.SplitN(expr, string(candidate), 2); len(parts) == 2 {
			return strings.TrimSpace(parts[0]), candidate, strings.TrimSpace(parts[1]), true
		}
	}
	return "", "", "", false
}

// eval reports false, not an error, when the field is absent or has a type
// the operator cannot compare.
func (c condition) eval(args map[string]any) (bool, error) {
	val, ok := args[c.field]
	if !ok || val == nil {
		return false, nil
	}

	switch c.op {
	case opIn, opNotIn:
		_, hit := c.set[strings.ToLower(fmt.Sprint(val))]
		return hit == (c.op == opIn), nil
	case opContains:
		return strings.Contains(strings.ToLower(fmt.Sprint(val)), c.text), nil
	}

	if c.isNum {
		lhs, ok := toDecimal(val)
		if !ok {
			return false, nil
		}
		cmp := lhs.Cmp(c.num)
		switch c.op {
		case opEq:
			return cmp == 0, nil
		case opNe:
			return cmp != 0, nil
		case opGt:
			return cmp > 0, nil
		case opLt:
			return cmp < 0, nil
		case opGte:
			return cmp >= 0, nil
		case opLte:
			return cmp <= 0, nil
		}
	}

	// addresses and statuses compare case-insensitively
	equal := strings.EqualFold(fmt.Sprint(val), c.text)
	if c.op == opEq {
		return equal, nil
	}
	return !equal, nil
}

// parseDecimal reads "100", "1e18", "1_000" or a product such as "5 * 1e9".
func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return decimal.Zero, false
	}

	if strings.Contains(s, "*") {
		out := decimal.NewFromInt(1)
		for _, factor := range strings.Split(s, "*") {
			d, ok := parseDecimal(factor)
			if !ok {
				return decimal.Zero, false
			}
			out = out.Mul(d)
		}
		return out, true
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0), true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case *big.Int:
		if n == nil {
			return decimal.Zero, false
		}
		return decimal.NewFromBigInt(n, 0), true
	case string:
		return parseDecimal(n)
	default:
		return decimal.Zero, false
	}
}
