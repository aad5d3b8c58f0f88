package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/minhdn/ragserve/internal/llm"
)

// CalculatorTool evaluates arithmetic expressions. Expressions run in a
// sandboxed environment with a handful of math helpers and no access to
// anything else.
type CalculatorTool struct {
	env map[string]interface{}
}

func NewCalculatorTool() *CalculatorTool {
	return &CalculatorTool{
		env: map[string]interface{}{
			"pi":    math.Pi,
			"e":     math.E,
			"sqrt":  math.Sqrt,
			"abs":   math.Abs,
			"pow":   math.Pow,
			"log":   math.Log,
			"log2":  math.Log2,
			"log10": math.Log10,
			"sin":   math.Sin,
			"cos":   math.Cos,
			"tan":   math.Tan,
			"floor": math.Floor,
			"ceil":  math.Ceil,
			"round": math.Round,
			"min":   math.Min,
			"max":   math.Max,
		},
	}
}

func (t *CalculatorTool) Name() string { return "calculator" }

func (t *CalculatorTool) Definition() llm.ToolDef {
	return schema(t.Name(),
		"Evaluate an arithmetic expression. Supports +, -, *, /, %, **, parentheses and functions like sqrt, pow, log, sin, cos, floor, ceil, round, min, max.",
		`{
			"type": "object",
			"properties": {
				"expression": {"type": "string", "description": "Expression to evaluate, e.g. (2+3)*sqrt(16)"}
			},
			"required": ["expression"]
		}`)
}

type calculatorArgs struct {
	Expression string `json:"expression"`
}

func (t *CalculatorTool) Call(_ context.Context, args json.RawMessage) (string, error) {
	var a calculatorArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid calculator arguments: %w", err)
	}
	if strings.TrimSpace(a.Expression) == "" {
		return "", fmt.Errorf("expression is required")
	}

	program, err := expr.Compile(a.Expression, expr.Env(t.env))
	if err != nil {
		return "", fmt.Errorf("invalid expression: %w", err)
	}
	out, err := expr.Run(program, t.env)
	if err != nil {
		return "", fmt.Errorf("evaluation failed: %w", err)
	}

	return formatNumber(out), nil
}

func formatNumber(v interface{}) string {
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'g', -1, 64)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
