package orchestrator

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"nil nil", nil, nil, true},
		{"nil string", nil, "", false},
		{"int int", int64(3), int64(3), true},
		{"int float", int64(3), 3.0, true},
		{"int plain int", 3, int64(3), true},
		{"json number", json.Number("3"), 3.0, true},
		{"float mismatch", 3.5, int64(3), false},
		{"string number", "3", int64(3), false},
		{"number string", int64(3), "3", false},
		{"bool number", true, int64(1), false},
		{"strings", "HOT", "HOT", true},
		{"case sensitive", "HOT", "hot", false},
		{"bools", false, false, true},
		{"lists", []any{int64(1), "a"}, []any{1.0, "a"}, true},
		{"list length", []any{int64(1)}, []any{int64(1), int64(2)}, false},
		{"maps", map[string]any{"a": int64(1)}, map[string]any{"a": 1.0}, true},
		{"map keys", map[string]any{"a": int64(1)}, map[string]any{"b": int64(1)}, false},
		{"list map", []any{}, map[string]any{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValuesEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("ValuesEqual(%#v, %#v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := ValuesEqual(tt.b, tt.a); got != tt.want {
				t.Errorf("ValuesEqual(%#v, %#v) = %v, want %v", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestMatchSwitch(t *testing.T) {
	conds := []Condition{
		{Operator: ">", Value: int64(10)},
		{Operator: "==", Value: "B"},
		{Operator: "==", Value: int64(10)},
		{Operator: "==", Value: 10.0},
	}

	if i := MatchSwitch(conds, int64(10)); i != 2 {
		t.Errorf("expected first equal condition at 2, got %d", i)
	}
	if i := MatchSwitch(conds, "B"); i != 1 {
		t.Errorf("expected 1, got %d", i)
	}
	if i := MatchSwitch(conds, int64(11)); i != -1 {
		t.Errorf("expected no match for unsupported operator, got %d", i)
	}
	if i := MatchSwitch(nil, "B"); i != -1 {
		t.Errorf("expected no match on empty conditions, got %d", i)
	}
}

func TestNormalizeValue(t *testing.T) {
	got, err := NormalizeValue(map[string]any{
		"i":    7,
		"u":    uint8(2),
		"f":    float32(1.5),
		"n":    json.Number("12"),
		"x":    json.Number("1e3"),
		"list": []any{int32(1), "s", nil, true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]any{
		"i":    int64(7),
		"u":    int64(2),
		"f":    1.5,
		"n":    int64(12),
		"x":    1000.0,
		"list": []any{int64(1), "s", nil, true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %#v, got %#v", want, got)
	}

	if _, err := NormalizeValue(struct{}{}); err == nil {
		t.Error("expected error for struct value")
	}
	if _, err := NormalizeValue([]any{map[string]any{"ch": make(chan int)}}); err == nil {
		t.Error("expected error for nested channel")
	}
}

func TestCloneValueIsDeep(t *testing.T) {
	orig := map[string]any{"list": []any{int64(1), map[string]any{"k": "v"}}}
	cpy := CloneValue(orig).(map[string]any)

	cpy["list"].([]any)[1].(map[string]any)["k"] = "changed"
	if orig["list"].([]any)[1].(map[string]any)["k"] != "v" {
		t.Error("expected clone not to share nested maps")
	}
}

func TestExecutionContextSet(t *testing.T) {
	ec := NewExecutionContext(nil)
	ec.Set("d1", "p", int64(1))
	ec.Merge("d1", map[string]Value{"q": "x", "p": int64(2)})

	if v, ok := ec.Lookup("d1", "p"); !ok || v != int64(2) {
		t.Errorf("expected p = 2, got %v", v)
	}
	if v, ok := ec.Lookup("d1", "q"); !ok || v != "x" {
		t.Errorf("expected q = x, got %v", v)
	}
	if _, ok := ec.Lookup("d2", "p"); ok {
		t.Error("expected missing device")
	}

	snap := ec.Devices.Clone()
	ec.Set("d1", "p", int64(3))
	if snap["d1"]["p"] != int64(2) {
		t.Error("expected clone to be independent")
	}
}
