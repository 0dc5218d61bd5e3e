package grader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/examgrader/internal/model"
)

// QuestionGrader grades a single question. *MCQGrader implements it.
type QuestionGrader interface {
	Grade(ctx context.Context, cfg model.GradeConfig, q model.Question, studentAnswer string, maxScore float64) model.GradingResult
}

// GradeExam grades every question and returns one result per question in
// input order. A failing question never stops the run. With cfg.Workers <= 1
// questions are graded one after another; otherwise at most cfg.Workers run
// at once.
func GradeExam(ctx context.Context, qg QuestionGrader, questions []model.Question, cfg model.GradeConfig) model.ExamResult {
	exam := model.ExamResult{
		ID:        uuid.NewString(),
		Results:   make([]model.GradingResult, len(questions)),
		StartedAt: time.Now(),
	}
	if cfg.UseRetrieval {
		exam.Source = cfg.Source
	}

	if cfg.Workers <= 1 {
		for i, q := range questions {
			exam.Results[i] = gradeOne(ctx, qg, cfg, q)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(cfg.Workers)
		for i, q := range questions {
			g.Go(func() error {
				exam.Results[i] = gradeOne(ctx, qg, cfg, q)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, r := range exam.Results {
		exam.TotalScore += r.Score
		exam.MaxScore += r.MaxScore
	}
	exam.FinishedAt = time.Now()

	slog.Info("exam graded",
		"run", exam.ID,
		"questions", len(questions),
		"score", exam.TotalScore,
		"max", exam.MaxScore,
		"degraded", exam.Degraded(),
		"elapsed", exam.FinishedAt.Sub(exam.StartedAt),
	)
	return exam
}

// gradeOne applies the per-question budget. A grader that overruns it is
// abandoned and the question is reported as failed.
func gradeOne(ctx context.Context, qg QuestionGrader, cfg model.GradeConfig, q model.Question) model.GradingResult {
	maxScore := cfg.MaxScoreFor(q)

	if cfg.QuestionTimeout <= 0 {
		r := qg.Grade(ctx, cfg, q, q.StudentAnswer, maxScore)
		logResult(r)
		return r
	}

	qctx, cancel := context.WithTimeout(ctx, cfg.QuestionTimeout)
	defer cancel()

	done := make(chan model.GradingResult, 1)
	go func() {
		done <- qg.Grade(qctx, cfg, q, q.StudentAnswer, maxScore)
	}()

	select {
	case r := <-done:
		logResult(r)
		return r
	case <-qctx.Done():
		err := fmt.Errorf("question %d: %w", q.Ordinal, qctx.Err())
		slog.Error("question grading timed out", "question", q.Ordinal, "timeout", cfg.QuestionTimeout, "error", err)
		return failed(ctx, model.GradingResult{
			Ordinal:       q.Ordinal,
			Question:      q.Text,
			StudentAnswer: NormalizeAnswer(q.StudentAnswer),
			CorrectAnswer: model.UnknownAnswer,
			MaxScore:      maxScore,
		}, err)
	}
}

func logResult(r model.GradingResult) {
	slog.Info("graded question",
		"question", r.Ordinal,
		"outcome", r.Outcome,
		"student", r.StudentAnswer,
		"correct", r.CorrectAnswer,
		"score", r.Score,
	)
}
