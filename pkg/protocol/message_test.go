package protocol

import (
	"encoding/json"
	"math"
	"testing"
)

func TestToInt(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int
		ok   bool
	}{
		{"int", 3, 3, true},
		{"int64", int64(7), 7, true},
		{"uint", uint(9), 9, true},
		{"uint max", uint(math.MaxUint), 0, false},
		{"uint32", uint32(5), 5, true},
		{"uint64 max", uint64(math.MaxUint64), 0, false},
		{"float integral", 4.0, 4, true},
		{"float fractional", 4.5, 0, false},
		{"json int", json.Number("12"), 12, true},
		{"json float integral", json.Number("12.0"), 12, true},
		{"json garbage", json.Number("x"), 0, false},
		{"string", "12", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ToInt(tc.in)
			if got != tc.want || ok != tc.ok {
				t.Errorf("ToInt(%v) = %d, %v, want %d, %v", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestMessageAccessors(t *testing.T) {
	m := Message{
		"s":     "x",
		"b":     true,
		"null":  nil,
		"list":  []any{1, 2},
		"obj":   map[string]any{"k": "v"},
		"inner": Message{"k": "v"},
	}

	if !m.Has("null") {
		t.Error("Has(null) = false, want true")
	}
	if m.Has("missing") {
		t.Error("Has(missing) = true, want false")
	}
	if s, ok := m.String("s"); !ok || s != "x" {
		t.Errorf("String(s) = %q, %v", s, ok)
	}
	if _, ok := m.String("b"); ok {
		t.Error("String(b) ok = true, want false")
	}
	if b, ok := m.Bool("b"); !ok || !b {
		t.Errorf("Bool(b) = %v, %v", b, ok)
	}
	if l, ok := m.Slice("list"); !ok || len(l) != 2 {
		t.Errorf("Slice(list) = %v, %v", l, ok)
	}
	if _, ok := m.Map("obj"); !ok {
		t.Error("Map(obj) ok = false")
	}
	if _, ok := m.Map("inner"); !ok {
		t.Error("Map(inner) ok = false")
	}
}

func TestCloneAndMerge(t *testing.T) {
	base := New("var", "v", FuncGet)
	clone := base.Clone()
	clone[FieldFunc] = FuncSet

	if base.Func() != FuncGet {
		t.Errorf("Clone shares storage: base func = %q", base.Func())
	}

	merged := Message{FieldValue: 1}.Merge(base)
	if merged.Name() != "v" || merged[FieldValue] != 1 {
		t.Errorf("Merge() = %v", merged)
	}
}

func TestErrorShapes(t *testing.T) {
	ne := NameError("list", "todos", "zz")
	if !ne.IsError() || ne.Func() != FuncNameError {
		t.Errorf("NameError() = %v", ne)
	}
	if ne[FieldGroupType] != "list" || ne[FieldID] != "zz" || ne.Name() != "todos" {
		t.Errorf("NameError() fields = %v", ne)
	}

	ge := GeneralError("missing id")
	if !ge.IsError() || ge.Func() != FuncGeneralError || ge[FieldMessage] != "missing id" {
		t.Errorf("GeneralError() = %v", ge)
	}
}
