package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"
	"math"
	"strings"
	"time"
)

// DefaultCloseInterval is used when a profile sets no close_queue_interval.
const DefaultCloseInterval = 2700 * time.Second

// Interval is a close_queue_interval value: a number of seconds or an
// arithmetic formula over numeric literals ("60*45", "(30+15)*60").
// The formula is evaluated once when the profile is decoded.
type Interval struct {
	D   time.Duration
	Raw string
}

func (iv *Interval) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*iv = Interval{}
		return nil
	}
	var raw string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	} else {
		raw = string(b)
	}
	d, err := EvalInterval(raw)
	if err != nil {
		return err
	}
	*iv = Interval{D: d, Raw: raw}
	return nil
}

func (iv Interval) MarshalJSON() ([]byte, error) {
	if iv.Raw == "" {
		return []byte("null"), nil
	}
	return json.Marshal(iv.Raw)
}

// EvalInterval evaluates a seconds formula. Only numeric literals, parentheses,
// unary +/- and the binary operators + - * / are accepted; division is exact.
func EvalInterval(expr string) (time.Duration, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return 0, fmt.Errorf("close_queue_interval: empty expression")
	}
	node, err := parser.ParseExpr(s)
	if err != nil {
		return 0, fmt.Errorf("close_queue_interval %q: %w", expr, err)
	}
	v, err := evalConst(node)
	if err != nil {
		return 0, fmt.Errorf("close_queue_interval %q: %w", expr, err)
	}
	secs, _ := constant.Float64Val(constant.ToFloat(v))
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return 0, fmt.Errorf("close_queue_interval %q: must be > 0 seconds", expr)
	}
	if secs > (1<<62)/float64(time.Second) {
		return 0, fmt.Errorf("close_queue_interval %q: too large", expr)
	}
	return time.Duration(secs * float64(time.Second)).Round(time.Millisecond), nil
}

func evalConst(n ast.Expr) (constant.Value, error) {
	switch x := n.(type) {
	case *ast.BasicLit:
		if x.Kind != token.INT && x.Kind != token.FLOAT {
			return nil, fmt.Errorf("unsupported literal %s", x.Value)
		}
		v := constant.MakeFromLiteral(x.Value, x.Kind, 0)
		if v.Kind() == constant.Unknown {
			return nil, fmt.Errorf("bad literal %s", x.Value)
		}
		return v, nil
	case *ast.ParenExpr:
		return evalConst(x.X)
	case *ast.UnaryExpr:
		if x.Op != token.ADD && x.Op != token.SUB {
			return nil, fmt.Errorf("unsupported operator %s", x.Op)
		}
		v, err := evalConst(x.X)
		if err != nil {
			return nil, err
		}
		return constant.UnaryOp(x.Op, v, 0), nil
	case *ast.BinaryExpr:
		switch x.Op {
		case token.ADD, token.SUB, token.MUL, token.QUO:
		default:
			return nil, fmt.Errorf("unsupported operator %s", x.Op)
		}
		l, err := evalConst(x.X)
		if err != nil {
			return nil, err
		}
		r, err := evalConst(x.Y)
		if err != nil {
			return nil, err
		}
		if x.Op == token.QUO && constant.Sign(r) == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return constant.BinaryOp(l, x.Op, r), nil
	default:
		return nil, fmt.Errorf("unsupported expression %T", n)
	}
}
