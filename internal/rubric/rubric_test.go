package rubric

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pavelanni/examgrader/internal/llm/prompts"
	"github.com/pavelanni/examgrader/internal/model"
)

type stubGenerator struct {
	response string
	err      error
	prompts  []string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.response, g.err
}

func testRubric(t *testing.T) *Rubric {
	t.Helper()
	r, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	return r
}

func TestDefaultRubric(t *testing.T) {
	r := testRubric(t)
	if got := len(r.Criteria()); got != 5 {
		t.Fatalf("expected 5 criteria, got %d", got)
	}
	if got := r.MaxPoints(); got != 5 {
		t.Errorf("MaxPoints() = %d, want 5", got)
	}
	c, ok := r.Lookup("G03")
	if !ok {
		t.Fatal("G03 not found")
	}
	if c.Points != 1 || c.Message == "" {
		t.Errorf("unexpected criterion: %+v", c)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty", "criteria: []", "no criteria"},
		{"missing id", "criteria:\n  - description: x\n    points: 1", "missing id"},
		{"missing description", "criteria:\n  - id: A\n    points: 1", "missing description"},
		{"zero points", "criteria:\n  - id: A\n    description: x", "non-zero"},
		{"duplicate", "criteria:\n  - id: A\n    description: x\n    points: 1\n  - id: A\n    description: y\n    points: 2", "duplicate"},
		{"bad yaml", "criteria: [", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != "" && !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	data := "criteria:\n  - id: R01\n    description: Too short\n    points: -5\n  - id: R02\n    description: Has place\n    points: 5\n    message: Mentions a place\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if r.MaxPoints() != 5 {
		t.Errorf("negative points must not count toward MaxPoints, got %d", r.MaxPoints())
	}
	c, _ := r.Lookup("R01")
	if c.Message != "Too short" {
		t.Errorf("message should default to description, got %q", c.Message)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	r, err = LoadFile("")
	if err != nil || len(r.Criteria()) != 5 {
		t.Errorf("empty path should load default rubric, got %v", err)
	}
}

func TestKeywordRulesFile(t *testing.T) {
	r, err := LoadFile(filepath.Join("..", "..", "rubrics", "keyword_rules.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := len(r.Criteria()); got != 5 {
		t.Fatalf("expected 5 rules, got %d", got)
	}
	if r.MaxPoints() != 20 {
		t.Errorf("MaxPoints() = %d, want 20", r.MaxPoints())
	}
	if c, ok := r.Lookup("R01"); !ok || c.Points != -5 {
		t.Errorf("R01 = %+v, %v", c, ok)
	}
}

func TestScorerScore(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		err         error
		maxScore    int
		wantScore   int
		wantOutcome model.Outcome
		wantExpl    string
		wantHits    []string
	}{
		{"plain json", `{"score": 2, "explanation": "names leader and outcome", "criteria_met": ["G01", "G03"]}`,
			nil, 3, 2, model.OutcomeGraded, "names leader and outcome", []string{"G01", "G03"}},
		{"fenced json", "Result:\n```json\n{\"score\": 1, \"explanation\": \"ok\"}\n```",
			nil, 3, 1, model.OutcomeGraded, "ok", nil},
		{"score above max is clamped", `{"score": 5, "explanation": "all"}`,
			nil, 3, 3, model.OutcomeGraded, "all", nil},
		{"negative score is clamped", `{"score": -4, "explanation": "too short"}`,
			nil, 3, 0, model.OutcomeGraded, "too short", nil},
		{"fractional score rounds", `{"score": 1.6, "explanation": "x"}`,
			nil, 3, 2, model.OutcomeGraded, "x", nil},
		{"string score", `{"score": "2", "explanation": "x"}`,
			nil, 3, 2, model.OutcomeGraded, "x", nil},
		{"unknown and repeated ids dropped", `{"score": 1, "explanation": "x", "criteria_met": ["g02", "G99", "G02"]}`,
			nil, 3, 1, model.OutcomeGraded, "x", []string{"G02"}},
		{"unparseable text", "I think it deserves two points.",
			nil, 3, 0, model.OutcomeDegraded, "I think it deserves two points.", nil},
		{"gateway error", "", errors.New("connection refused"),
			3, 0, model.OutcomeFailed, "connection refused", nil},
		{"huge score is clamped", `{"score": 1e20, "explanation": "x"}`,
			nil, 3, 3, model.OutcomeGraded, "x", nil},
		{"huge negative score is clamped", `{"score": -1e20, "explanation": "x"}`,
			nil, 3, 0, model.OutcomeGraded, "x", nil},
		{"object without score is degraded", `{"explanation": "looks fine"}`,
			nil, 3, 0, model.OutcomeDegraded, `{"explanation": "looks fine"}`, nil},
		{"zero max uses rubric total", `{"score": 9, "explanation": "x"}`,
			nil, 0, 5, model.OutcomeGraded, "x", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &stubGenerator{response: tt.response, err: tt.err}
			s := NewScorer(gen, testRubric(t), prompts.LangEnglish)

			got, err := s.Score(context.Background(), "Describe the battle of Bach Dang.", "Ngo Quyen defeated the Southern Han.", tt.maxScore)
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			if got.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", got.Score, tt.wantScore)
			}
			if got.Outcome != tt.wantOutcome {
				t.Errorf("outcome = %q, want %q", got.Outcome, tt.wantOutcome)
			}
			if got.Explanation != tt.wantExpl {
				t.Errorf("explanation = %q, want %q", got.Explanation, tt.wantExpl)
			}
			if got.Hits == nil {
				t.Error("hits should be an empty slice, not nil")
			}
			var ids []string
			for _, h := range got.Hits {
				ids = append(ids, h.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantHits, ",") {
				t.Errorf("hits = %v, want %v", ids, tt.wantHits)
			}
			if got.Score < 0 || got.Score > got.MaxScore {
				t.Errorf("score %d outside [0, %d]", got.Score, got.MaxScore)
			}
			if len(gen.prompts) != 1 || !strings.Contains(gen.prompts[0], "Ngo Quyen") {
				t.Error("prompt should include the student answer")
			}
		})
	}
}

func TestClamp(t *testing.T) {
	for _, tt := range []struct {
		score float64
		limit int
		want  int
	}{
		{-1, 3, 0}, {0, 3, 0}, {2, 3, 2}, {3, 3, 3}, {7, 3, 3},
		{2.4, 3, 2}, {2.5, 3, 3}, {1e20, 3, 3}, {-1e20, 3, 0}, {math.NaN(), 3, 0},
	} {
		if got := Clamp(tt.score, tt.limit); got != tt.want {
			t.Errorf("Clamp(%v, %d) = %d, want %d", tt.score, tt.limit, got, tt.want)
		}
	}
}
