package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vango-dev/socksync/pkg/group"
)

// builtins are the local functions a [[group]] can bind by name.
var builtins = map[string]group.Func{
	"echo": echo,
	"sum":  sum,
	"time": now,
}

// echo returns args["value"], or the whole argument object when there is
// no value.
func echo(_ context.Context, args map[string]any) (any, error) {
	if v, ok := args["value"]; ok {
		return v, nil
	}
	return args, nil
}

// sum adds the numbers in args["values"].
func sum(_ context.Context, args map[string]any) (any, error) {
	raw, ok := args["values"]
	if !ok {
		return 0, nil
	}
	values, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("values must be an array, got %T", raw)
	}

	var total float64
	for i, v := range values {
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("values[%d]: %w", i, err)
		}
		total += f
	}
	return total, nil
}

// now returns the server time in RFC 3339 format, in the IANA zone named
// by args["zone"] when given.
func now(ctx context.Context, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := time.Now()
	if zone, ok := args["zone"].(string); ok && zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("unknown zone %q", zone)
		}
		t = t.In(loc)
	}
	return t.Format(time.RFC3339Nano), nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}
