package extract

import (
	"errors"
	"reflect"
	"testing"
)

func TestObject(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   map[string]any
		wantOK bool
	}{
		{"plain object", `{"score": 2, "explanation": "ok"}`,
			map[string]any{"score": 2.0, "explanation": "ok"}, true},
		{"surrounding whitespace", "\n  {\"a\": \"b\"}  \n", map[string]any{"a": "b"}, true},
		{"json fence with prose", "Sure, here it is:\n```json\n{\"correct_answer\": \"C\"}\n```\nHope it helps.",
			map[string]any{"correct_answer": "C"}, true},
		{"unlabeled fence", "```\n{\"a\": 1}\n```", map[string]any{"a": 1.0}, true},
		{"uppercase label", "```JSON\n{\"a\": 1}\n```", map[string]any{"a": 1.0}, true},
		{"bracket fallback", `Here is the answer: {"correct_answer": "B", "explanation": "ok"}`,
			map[string]any{"correct_answer": "B", "explanation": "ok"}, true},
		{"malformed fence falls through to brackets", "Result: {\"ok\": \"```json {bad} ```\"} done",
			map[string]any{"ok": "```json {bad} ```"}, true},
		{"unterminated fence and no valid span", "```json\n{\"a\": \n```\n then {\"b\": 2}",
			nil, false},
		{"nested object", `prefix {"outer": {"inner": "x"}} suffix`,
			map[string]any{"outer": map[string]any{"inner": "x"}}, true},
		{"empty string", "", nil, false},
		{"whitespace only", "   \n\t", nil, false},
		{"no braces", "The answer is B because reasons.", nil, false},
		{"reversed braces", "} nothing here {", nil, false},
		{"array is not an object", `[1, 2, 3]`, nil, false},
		{"null is not an object", `null`, nil, false},
		{"unbalanced", `{"a": 1`, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Object(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("Object(%q) ok = %v, want %v (got %v)", tt.input, ok, tt.wantOK, got)
			}
			if ok && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Object(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestObjectBrokenFences(t *testing.T) {
	input := "```json\n{\"correct_answer\": \"D\", \"explanation\": \"x\"}}\n```"
	got, ok := Object(input)
	if ok {
		t.Fatalf("expected failure for doubly-closed object, got %v", got)
	}

	input = "Answer: ```json {\"correct_answer\": \"D\"```} trailing"
	if _, ok := Object(input); ok {
		t.Fatal("expected failure when neither fence nor bracket span parses")
	}

	input = "```json\n{correct_answer: D}\n```\n{\"correct_answer\": \"D\"}"
	if _, ok := Object(input); ok {
		t.Fatal("bracket span covers the broken fenced object too, expected failure")
	}
}

func TestObjectFirstFenceWins(t *testing.T) {
	input := "```json\n{\"n\": 1}\n```\nand also\n```json\n{\"n\": 2}\n```"
	got, ok := Object(input)
	if !ok {
		t.Fatal("expected an object")
	}
	if got["n"] != 1.0 {
		t.Errorf("expected first fenced object, got %v", got)
	}
}

func TestDecode(t *testing.T) {
	var v struct {
		CorrectAnswer string `json:"correct_answer"`
		Explanation   string `json:"explanation"`
	}
	if err := Decode("noise {\"correct_answer\": \"A\", \"explanation\": \"because\"} noise", &v); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.CorrectAnswer != "A" || v.Explanation != "because" {
		t.Errorf("unexpected decode result: %+v", v)
	}

	if err := Decode("nothing", &v); !errors.Is(err, ErrNoObject) {
		t.Errorf("expected ErrNoObject, got %v", err)
	}
}

func TestFieldHelpers(t *testing.T) {
	obj := map[string]any{
		"s":    "B",
		"n":    2.0,
		"ns":   " 3 ",
		"bad":  "three",
		"list": []any{"R01", 5.0, "R03"},
	}

	if got := String(obj, "s"); got != "B" {
		t.Errorf("String(s) = %q", got)
	}
	if got := String(obj, "n"); got != "2" {
		t.Errorf("String(n) = %q, want \"2\"", got)
	}
	if got := String(obj, "missing"); got != "" {
		t.Errorf("String(missing) = %q", got)
	}

	if got, ok := Number(obj, "n"); !ok || got != 2 {
		t.Errorf("Number(n) = %v, %v", got, ok)
	}
	if got, ok := Number(obj, "ns"); !ok || got != 3 {
		t.Errorf("Number(ns) = %v, %v", got, ok)
	}
	if _, ok := Number(obj, "bad"); ok {
		t.Error("Number(bad) should fail")
	}
	if _, ok := Number(obj, "missing"); ok {
		t.Error("Number(missing) should fail")
	}

	if got := Strings(obj, "list"); !reflect.DeepEqual(got, []string{"R01", "R03"}) {
		t.Errorf("Strings(list) = %v", got)
	}
}
