package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/examgrader/internal/examfile"
	"github.com/pavelanni/examgrader/internal/grader"
	appI18n "github.com/pavelanni/examgrader/internal/i18n"
	"github.com/pavelanni/examgrader/internal/store"
)

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade a multiple-choice exam file",
		RunE:  runGrade,
	}
	f := cmd.Flags()
	f.StringP("exam", "e", "dataset/test1.txt", "Exam text file")
	f.String("answers", "", "Student answers in order, comma separated (e.g. C,A,D)")
	f.String("answers-file", "", "Answer sheet, one answer or \"N: X\" per line")
	f.String("db", "examgrader.db", "SQLite database path (runs are stored here)")
	f.StringP("output", "o", "", "Also write the full result as JSON to this file")
	addLLMFlags(f)
	addRetrievalFlags(f)
	addGradeFlags(f)
	addLogFlags(f)
	return cmd
}

func runGrade(cmd *cobra.Command, _ []string) error {
	start := time.Now()
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := promptLanguage(v)
	if err := appI18n.Init(string(lang)); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	parser, err := newParser(v)
	if err != nil {
		return err
	}
	questions, err := parser.ParseFile(v.GetString("exam"))
	if err != nil {
		return err
	}

	answers, err := loadAnswers(v)
	if err != nil {
		return err
	}
	if len(answers) == 0 {
		slog.Warn("no student answers given, every question counts as unanswered")
	}
	if extra := examfile.AssignAnswers(questions, answers); extra > 0 {
		slog.Warn("more answers than questions, extra answers ignored", "extra", extra)
	} else if len(answers) < len(questions) && len(answers) > 0 {
		slog.Warn("fewer answers than questions", "answers", len(answers), "questions", len(questions))
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	client, err := newLLMClient(v)
	if err != nil {
		return err
	}
	cfg := gradeConfig(v)

	var ret grader.Retriever
	if cfg.UseRetrieval {
		r, err := newRetriever(v, db, client)
		if err != nil {
			return err
		}
		checkEmbedder(v, db, cfg.Source)
		ret = r
	}
	mcq := grader.NewMCQGrader(newGenerator(v, client), ret, lang, v.GetString("subject"))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx = appI18n.WithLanguage(ctx, string(lang))

	slog.Info("grading exam", "exam", v.GetString("exam"), "questions", len(questions), "rag", cfg.UseRetrieval)
	exam := grader.GradeExam(ctx, mcq, questions, cfg)

	if err := db.SaveRun(exam); err != nil {
		slog.Error("failed to store run", "run", exam.ID, "error", err)
	}
	if path := v.GetString("output"); path != "" {
		data, err := json.MarshalIndent(exam, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, appI18n.Td(ctx, "TotalScore", map[string]any{
		"Score": formatScore(exam.TotalScore),
		"Max":   formatScore(exam.MaxScore),
	}))
	for _, r := range exam.Results {
		fmt.Fprintln(out, appI18n.Td(ctx, "QuestionFeedback", map[string]any{
			"N":        r.Ordinal,
			"Feedback": r.Feedback,
		}))
	}
	if n := exam.Degraded(); n > 0 {
		fmt.Fprintln(out, appI18n.Tp(ctx, "QuestionsDegraded", n))
	}
	fmt.Fprintln(out, appI18n.Td(ctx, "ExecutionTime", map[string]any{
		"Seconds": fmt.Sprintf("%.2f", time.Since(start).Seconds()),
	}))
	return nil
}

func loadAnswers(v *viper.Viper) ([]string, error) {
	path := v.GetString("answers-file")
	if path == "" {
		return examfile.SplitAnswers(v.GetString("answers")), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open answers file: %w", err)
	}
	defer f.Close()
	answers, err := examfile.ReadAnswers(f)
	if err != nil {
		return nil, fmt.Errorf("read answers file %s: %w", path, err)
	}
	return answers, nil
}
