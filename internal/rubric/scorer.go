package rubric

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/pavelanni/examgrader/internal/extract"
	"github.com/pavelanni/examgrader/internal/llm"
	"github.com/pavelanni/examgrader/internal/llm/prompts"
	"github.com/pavelanni/examgrader/internal/model"
)

// Scorer asks a Generator to apply a Rubric to one answer.
type Scorer struct {
	gen    llm.Generator
	rubric *Rubric
	lang   prompts.Language
}

// NewScorer creates a Scorer.
func NewScorer(gen llm.Generator, r *Rubric, lang prompts.Language) *Scorer {
	return &Scorer{gen: gen, rubric: r, lang: lang}
}

// Rubric returns the criteria the scorer applies.
func (s *Scorer) Rubric() *Rubric {
	return s.rubric
}

// Score grades answer to question. A maxScore <= 0 means the sum of the
// rubric's positive points. Model and gateway failures do not return an
// error: they yield a zero score with the raw text or error as explanation.
func (s *Scorer) Score(ctx context.Context, question, answer string, maxScore int) (model.RubricResult, error) {
	if maxScore <= 0 {
		maxScore = s.rubric.MaxPoints()
	}

	prompt, err := prompts.BuildRubricPrompt(s.lang, prompts.RubricData{
		Question: question,
		Answer:   answer,
		MaxScore: maxScore,
		Criteria: s.rubric.Criteria(),
	})
	if err != nil {
		return model.RubricResult{}, fmt.Errorf("build rubric prompt: %w", err)
	}

	result := model.RubricResult{MaxScore: maxScore, Hits: []model.RuleHit{}}

	raw, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		slog.Error("rubric scoring failed", "error", err)
		result.Outcome = model.OutcomeFailed
		result.Explanation = err.Error()
		return result, nil
	}

	obj, ok := extract.Object(raw)
	if !ok {
		slog.Warn("rubric response had no JSON object", "raw", raw)
		result.Outcome = model.OutcomeDegraded
		result.Explanation = raw
		return result, nil
	}

	score, ok := extract.Number(obj, "score")
	if !ok || math.IsNaN(score) {
		slog.Warn("rubric response missing score", "raw", raw)
		result.Outcome = model.OutcomeDegraded
		result.Explanation = raw
		return result, nil
	}
	clamped := Clamp(score, maxScore)
	if float64(clamped) != math.Round(score) {
		slog.Info("rubric score clamped", "reported", score, "clamped", clamped, "max", maxScore)
	}

	result.Outcome = model.OutcomeGraded
	result.Score = clamped
	result.Explanation = extract.String(obj, "explanation")
	result.Hits = s.hits(extract.Strings(obj, "criteria_met"))
	return result, nil
}

// hits maps reported criterion ids onto configured criteria, keeping rubric
// order and dropping unknown or repeated ids.
func (s *Scorer) hits(ids []string) []model.RuleHit {
	met := make(map[string]bool, len(ids))
	for _, id := range ids {
		met[strings.ToUpper(strings.TrimSpace(id))] = true
	}
	hits := []model.RuleHit{}
	for _, c := range s.rubric.criteria {
		if met[strings.ToUpper(c.ID)] {
			hits = append(hits, model.RuleHit{ID: c.ID, Message: c.Message, Points: c.Points})
		}
	}
	return hits
}

// Clamp rounds score and bounds it to [0, limit] before converting to int.
func Clamp(score float64, limit int) int {
	if limit < 0 || math.IsNaN(score) {
		return 0
	}
	return int(math.Max(0, math.Min(math.Round(score), float64(limit))))
}
