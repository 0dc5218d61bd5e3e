package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/examgrader/internal/examfile"
	"github.com/pavelanni/examgrader/internal/llm"
	"github.com/pavelanni/examgrader/internal/llm/prompts"
	"github.com/pavelanni/examgrader/internal/model"
	"github.com/pavelanni/examgrader/internal/retrieval"
	"github.com/pavelanni/examgrader/internal/store"
)

const keywordEmbedderName = "keyword"

func main() {
	// A missing .env file is fine; flags, environment and grader.yaml still apply.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examgrader",
		Short: "Exam grading assistant backed by an OpenAI-compatible LLM",
	}

	serve := serveCmd()
	root.AddCommand(serve, gradeCmd(), ingestCmd(), searchCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examgrader --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Bool("llm-json-mode", false, "Ask the endpoint for JSON-only responses")
	f.Duration("llm-timeout", llm.DefaultResilientConfig().Timeout, "Timeout of a single LLM call")
	f.Int("llm-retries", llm.DefaultResilientConfig().MaxAttempts, "Attempts per LLM call, including the first")
	f.StringP("lang", "l", "en", "Prompt and feedback language (en, vi)")
	f.String("subject", "", "Exam subject named in prompts (default depends on --lang)")
}

func addRetrievalFlags(f *pflag.FlagSet) {
	f.String("source", "lichsu_dialy_4", "Textbook source to retrieve passages from")
	f.Int("top-k", 1, "Passages to retrieve per question")
	f.String("embedding-model", "", "Embedding model name (empty uses the local keyword embedder)")
	f.String("query-prefix", "", "Text prepended to queries before embedding")
	f.String("passage-prefix", "", "Text prepended to passages before embedding")
}

func addGradeFlags(f *pflag.FlagSet) {
	f.Bool("rag", false, "Add the best textbook passage to each grading prompt")
	f.Float64("score-per-question", 1, "Score of a correctly answered question")
	f.Bool("use-question-points", false, "Use points written as \"Question N (x points).\" when present")
	f.Int("workers", 1, "Questions graded concurrently (1 grades in order)")
	f.Duration("question-timeout", 0, "Time budget per question, retries included (0 = none)")
	f.String("options-policy", string(examfile.OptionsAccept), "Questions without options: accept or reject")
	f.StringSlice("markers", examfile.DefaultMarkers, "Words that start a question block")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("GRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("grader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examgrader")
	v.AddConfigPath("/etc/examgrader")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func promptLanguage(v *viper.Viper) prompts.Language {
	lang := strings.ToLower(strings.TrimSpace(v.GetString("lang")))
	if !prompts.IsValidLanguage(lang) {
		slog.Warn("unsupported language, using en", "lang", lang)
		return prompts.LangEnglish
	}
	return prompts.Language(lang)
}

func newLLMClient(v *viper.Viper) (*llm.Client, error) {
	client, err := llm.New(llm.Config{
		BaseURL:        v.GetString("llm-url"),
		APIKey:         v.GetString("llm-key"),
		Model:          v.GetString("llm-model"),
		EmbeddingModel: v.GetString("embedding-model"),
		JSONMode:       v.GetBool("llm-json-mode"),
	})
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	return client, nil
}

func newGenerator(v *viper.Viper, client *llm.Client) llm.Generator {
	cfg := llm.DefaultResilientConfig()
	cfg.Timeout = v.GetDuration("llm-timeout")
	cfg.MaxAttempts = v.GetInt("llm-retries")
	return llm.NewResilient(client, cfg)
}

// newRetriever opens the passage index in db. Without an embedding model the
// keyword embedder is used, so retrieval works with no embeddings endpoint.
func newRetriever(v *viper.Viper, db *store.Store, client *llm.Client) (*retrieval.Retriever, error) {
	index, err := retrieval.NewIndex(db.DB())
	if err != nil {
		return nil, fmt.Errorf("open passage index: %w", err)
	}
	var embedder retrieval.Embedder = retrieval.NewKeywordEmbedder(0)
	if v.GetString("embedding-model") != "" {
		embedder = client
	}
	return retrieval.NewRetriever(index, embedder, retrieval.Options{
		QueryPrefix:   v.GetString("query-prefix"),
		PassagePrefix: v.GetString("passage-prefix"),
	}), nil
}

func embedderName(v *viper.Viper) string {
	if name := v.GetString("embedding-model"); name != "" {
		return name
	}
	return keywordEmbedderName
}

func embedderKey(source string) string {
	return "embedder:" + source
}

// checkEmbedder warns when a source was indexed with a different embedder
// than the one configured now; similarity scores would be meaningless.
func checkEmbedder(v *viper.Viper, db *store.Store, source string) {
	stored, err := db.GetMetadata(embedderKey(source))
	if err != nil {
		slog.Warn("could not read index metadata", "source", source, "error", err)
		return
	}
	if stored != "" && stored != embedderName(v) {
		slog.Warn("source was indexed with another embedder",
			"source", source, "indexed_with", stored, "configured", embedderName(v))
	}
}

func gradeConfig(v *viper.Viper) model.GradeConfig {
	return model.GradeConfig{
		ScorePerQuestion:  v.GetFloat64("score-per-question"),
		UseQuestionPoints: v.GetBool("use-question-points"),
		UseRetrieval:      v.GetBool("rag"),
		Source:            v.GetString("source"),
		TopK:              v.GetInt("top-k"),
		Workers:           v.GetInt("workers"),
		QuestionTimeout:   v.GetDuration("question-timeout"),
	}
}

func newParser(v *viper.Viper) (*examfile.Parser, error) {
	policy, err := examfile.ParseOptionsPolicy(v.GetString("options-policy"))
	if err != nil {
		return nil, err
	}
	return examfile.NewParser(policy, v.GetStringSlice("markers")...), nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
