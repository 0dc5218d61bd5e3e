package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/pavelanni/examgrader/internal/grader"
	"github.com/pavelanni/examgrader/internal/handler"
	appI18n "github.com/pavelanni/examgrader/internal/i18n"
	"github.com/pavelanni/examgrader/internal/rubric"
	"github.com/pavelanni/examgrader/internal/store"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP grading server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "examgrader.db", "SQLite database path")
	f.String("rubric", "", "Rubric YAML file for essay scoring (empty uses the built-in rubric)")
	f.String("static-dir", "", "Directory served under /static/ (empty disables)")
	f.Bool("skip-ping", false, "Start without checking the LLM endpoint")
	addLLMFlags(f)
	addRetrievalFlags(f)
	addGradeFlags(f)
	addLogFlags(f)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := promptLanguage(v)
	if err := appI18n.Init(string(lang)); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	rb, err := rubric.LoadFile(v.GetString("rubric"))
	if err != nil {
		return fmt.Errorf("load rubric: %w", err)
	}

	client, err := newLLMClient(v)
	if err != nil {
		return err
	}
	if !v.GetBool("skip-ping") {
		if err := client.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", client.Model())
	}
	gen := newGenerator(v, client)

	ret, err := newRetriever(v, db, client)
	if err != nil {
		return err
	}
	checkEmbedder(v, db, v.GetString("source"))

	parser, err := newParser(v)
	if err != nil {
		return err
	}

	cfg := handler.Config{
		Grade:     gradeConfig(v),
		StaticDir: v.GetString("static-dir"),
	}
	h, err := handler.New(
		db,
		rubric.NewScorer(gen, rb, lang),
		grader.NewMCQGrader(gen, ret, lang, v.GetString("subject")),
		parser,
		cfg,
	)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(handler.CORS)
	r.Use(appI18n.Middleware(string(lang)))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("starting server",
		"addr", addr,
		"model", client.Model(),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"rubric_criteria", len(rb.Criteria()),
		"rag", cfg.Grade.UseRetrieval,
		"source", cfg.Grade.Source,
		"workers", cfg.Grade.Workers,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
