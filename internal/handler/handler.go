package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examgrader/internal/examfile"
	"github.com/pavelanni/examgrader/internal/grader"
	"github.com/pavelanni/examgrader/internal/handler/views"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/store"
)

const (
	defaultEssayMaxScore = 3
	maxBodyBytes         = 1 << 20
)

// EssayScorer scores a free-text answer against the rubric.
type EssayScorer interface {
	Score(ctx context.Context, question, answer string, maxScore int) (model.RubricResult, error)
}

// Config holds the settings the handlers apply to every request.
type Config struct {
	Grade     model.GradeConfig
	StaticDir string
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	scorer EssayScorer
	grader grader.QuestionGrader
	parser *examfile.Parser
	config Config
}

// New creates a new Handler.
func New(s *store.Store, scorer EssayScorer, qg grader.QuestionGrader, parser *examfile.Parser, cfg Config) (*Handler, error) {
	if s == nil || scorer == nil || qg == nil || parser == nil {
		return nil, errors.New("handler needs a store, a scorer, a grader and a parser")
	}
	return &Handler{store: s, scorer: scorer, grader: qg, parser: parser, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Get("/healthz", h.handleHealth)
	r.Post("/score", h.handleScore)
	r.Post("/grade", h.handleGrade)
	r.Get("/runs", h.handleListRuns)
	r.Get("/runs/{runID}", h.handleGetRun)
	if h.config.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(h.config.StaticDir))))
	}
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := views.IndexData{
		MaxScore:     defaultEssayMaxScore,
		UseRetrieval: h.config.Grade.UseRetrieval,
		Source:       h.config.Grade.Source,
	}
	if err := views.IndexPage(data).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.RunCount()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "runs": runs})
}

type scoreRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	MaxScore *int   `json:"max_score"`
}

type scoreResponse struct {
	TotalScore     int             `json:"total_score"`
	MaxScore       int             `json:"max_score"`
	RuleHits       []model.RuleHit `json:"rule_hits"`
	RAGExplanation string          `json:"rag_explanation"`
	Outcome        model.Outcome   `json:"outcome"`
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	maxScore := defaultEssayMaxScore
	if req.MaxScore != nil {
		maxScore = *req.MaxScore
	}

	result, err := h.scorer.Score(r.Context(), req.Question, req.Answer, maxScore)
	if err != nil {
		slog.Error("essay scoring failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := h.store.SaveEssayScore(req.Question, req.Answer, result); err != nil {
		slog.Error("failed to store essay score", "error", err)
	}

	writeJSON(w, http.StatusOK, scoreResponse{
		TotalScore:     result.Score,
		MaxScore:       result.MaxScore,
		RuleHits:       result.Hits,
		RAGExplanation: result.Explanation,
		Outcome:        result.Outcome,
	})
}

type gradeRequest struct {
	ExamText     string   `json:"exam_text"`
	Answers      []string `json:"answers"`
	UseRetrieval *bool    `json:"use_retrieval"`
	Source       string   `json:"source"`
}

func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	questions, err := h.parser.Parse(req.ExamText)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if extra := examfile.AssignAnswers(questions, req.Answers); extra > 0 {
		slog.Warn("more answers than questions, extra answers ignored", "extra", extra)
	}

	cfg := h.config.Grade
	if req.UseRetrieval != nil {
		cfg.UseRetrieval = *req.UseRetrieval
	}
	if req.Source != "" {
		cfg.Source = req.Source
	}

	exam := grader.GradeExam(r.Context(), h.grader, questions, cfg)
	if err := h.store.SaveRun(exam); err != nil {
		slog.Error("failed to store run", "run", exam.ID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRuns()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []model.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetRun(chi.URLParam(r, "runID"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// CORS allows any origin, as the grading API is called from static pages
// served elsewhere.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
