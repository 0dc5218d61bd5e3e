// Package grader grades multiple-choice questions and whole exams.
package grader

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/pavelanni/examgrader/internal/extract"
	"github.com/pavelanni/examgrader/internal/i18n"
	"github.com/pavelanni/examgrader/internal/llm"
	"github.com/pavelanni/examgrader/internal/llm/prompts"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/retrieval"
)

const defaultTopK = 1

// Retriever looks up textbook passages for a question.
type Retriever interface {
	Retrieve(ctx context.Context, query, source string, topK int) ([]retrieval.Passage, error)
}

// MCQGrader asks a Generator for the correct option and compares it with
// the student's answer.
type MCQGrader struct {
	gen       llm.Generator
	retriever Retriever
	lang      prompts.Language
	subject   string
}

// NewMCQGrader creates an MCQGrader. retriever may be nil, in which case
// questions are graded without context.
func NewMCQGrader(gen llm.Generator, retriever Retriever, lang prompts.Language, subject string) *MCQGrader {
	return &MCQGrader{gen: gen, retriever: retriever, lang: lang, subject: subject}
}

// Grade grades one question. It never returns an error: gateway failures
// and unrecoverable responses are reported through the result's Outcome.
func (g *MCQGrader) Grade(ctx context.Context, cfg model.GradeConfig, q model.Question, studentAnswer string, maxScore float64) model.GradingResult {
	result := model.GradingResult{
		Ordinal:       q.Ordinal,
		Question:      q.Text,
		StudentAnswer: NormalizeAnswer(studentAnswer),
		CorrectAnswer: model.UnknownAnswer,
		MaxScore:      maxScore,
	}

	if cfg.UseRetrieval {
		result.Context = g.passageFor(ctx, cfg, q)
	}

	prompt, err := prompts.BuildMCQPrompt(g.lang, prompts.MCQData{
		Subject:  g.subject,
		Context:  result.Context,
		Question: q.Text,
	})
	if err != nil {
		return failed(ctx, result, err)
	}

	raw, err := g.gen.Generate(ctx, prompt)
	if err != nil {
		slog.Error("question grading failed", "question", q.Ordinal, "error", err)
		return failed(ctx, result, err)
	}

	obj, ok := extract.Object(raw)
	if !ok {
		slog.Warn("grading response had no JSON object", "question", q.Ordinal, "raw", raw)
		return degraded(ctx, result, raw)
	}

	correct := NormalizeAnswer(extract.String(obj, "correct_answer"))
	explanation := strings.TrimSpace(extract.String(obj, "explanation"))
	if correct == "" || correct == model.UnknownAnswer {
		slog.Warn("grading response had no correct answer", "question", q.Ordinal, "raw", raw)
		if explanation == "" {
			explanation = raw
		}
		return degraded(ctx, result, explanation)
	}

	result.Outcome = model.OutcomeGraded
	result.CorrectAnswer = correct
	result.Explanation = explanation
	if result.StudentAnswer == correct {
		result.Score = maxScore
	}
	result.Feedback = feedback(ctx, result)
	return result
}

// passageFor returns the best passage for q, or "" when retrieval is
// unavailable, fails, or finds nothing.
func (g *MCQGrader) passageFor(ctx context.Context, cfg model.GradeConfig, q model.Question) string {
	if g.retriever == nil || cfg.Source == "" {
		return ""
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	passages, err := g.retriever.Retrieve(ctx, q.Text, cfg.Source, topK)
	if err != nil {
		slog.Warn("retrieval failed, grading without context", "question", q.Ordinal, "source", cfg.Source, "error", err)
		return ""
	}
	if len(passages) == 0 {
		slog.Debug("no passages found", "question", q.Ordinal, "source", cfg.Source)
		return ""
	}
	return passages[0].Content
}

var optionLetterRegex = regexp.MustCompile(`^\(?([A-Z])(?:[.):,\s]|$)`)

// NormalizeAnswer trims and upper-cases an option letter. Decorated forms
// such as "B.", "(B)" or "B) two" reduce to the letter.
func NormalizeAnswer(answer string) string {
	answer = strings.ToUpper(strings.TrimSpace(answer))
	if m := optionLetterRegex.FindStringSubmatch(answer); m != nil {
		return m[1]
	}
	return answer
}

func failed(ctx context.Context, r model.GradingResult, err error) model.GradingResult {
	r.Outcome = model.OutcomeFailed
	r.Score = 0
	r.Explanation = err.Error()
	r.Feedback = i18n.Td(ctx, "FeedbackFailed", map[string]any{"Error": err.Error()})
	return r
}

func degraded(ctx context.Context, r model.GradingResult, explanation string) model.GradingResult {
	r.Outcome = model.OutcomeDegraded
	r.Score = 0
	r.CorrectAnswer = model.UnknownAnswer
	r.Explanation = explanation
	r.Feedback = feedback(ctx, r)
	return r
}

func feedback(ctx context.Context, r model.GradingResult) string {
	data := map[string]any{
		"Given":       r.StudentAnswer,
		"Answer":      r.CorrectAnswer,
		"Explanation": r.Explanation,
	}
	var id string
	switch {
	case r.Outcome == model.OutcomeDegraded:
		id = "FeedbackDegraded"
	case r.StudentAnswer == "" || r.StudentAnswer == model.UnknownAnswer:
		id = "FeedbackUnanswered"
	case r.StudentAnswer == r.CorrectAnswer:
		id = "FeedbackCorrect"
	default:
		id = "FeedbackWrong"
	}
	return strings.TrimSpace(i18n.Td(ctx, id, data))
}
