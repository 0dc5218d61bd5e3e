package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pavelanni/examgrader/internal/store"
)

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Index OCR'd textbook text files for retrieval",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIngest,
	}
	f := cmd.Flags()
	f.String("db", "examgrader.db", "SQLite database path")
	f.Bool("force", false, "Re-index files even if their content is unchanged")
	f.Bool("replace", false, "Drop every passage of the source before indexing")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	addRetrievalFlags(f)
	addLogFlags(f)
	return cmd
}

func runIngest(cmd *cobra.Command, paths []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	source := v.GetString("source")
	if source == "" {
		return errors.New("--source is required")
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
	ret, err := newRetriever(v, db, client)
	if err != nil {
		return err
	}

	stored, err := db.GetMetadata(embedderKey(source))
	if err != nil {
		return fmt.Errorf("read index metadata: %w", err)
	}
	replace := v.GetBool("replace")
	if stored != "" && stored != embedderName(v) && !replace {
		return fmt.Errorf("source %s was indexed with %s, not %s; use --replace to rebuild it", source, stored, embedderName(v))
	}
	if replace {
		if err := ret.Index().DeleteSource(ctx, source); err != nil {
			return fmt.Errorf("clear source %s: %w", source, err)
		}
		slog.Info("cleared source", "source", source)
	}

	total := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		document := filepath.Base(path)

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(source, document)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash && !replace && !v.GetBool("force") {
			slog.Info("textbook file unchanged, skipping", "path", path)
			continue
		}

		n, err := ret.Ingest(ctx, source, document, string(data))
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		if err := db.SetImportedFileHash(source, document, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		total += n
	}

	if err := db.SetMetadata(embedderKey(source), embedderName(v)); err != nil {
		return fmt.Errorf("record embedder: %w", err)
	}
	count, err := ret.Index().Count(ctx, source)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d passages; source %s now holds %d.\n", total, source, count)
	return nil
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Show the passages retrieved for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}
	f := cmd.Flags()
	f.String("db", "examgrader.db", "SQLite database path")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	addRetrievalFlags(f)
	addLogFlags(f)
	topK := f.Lookup("top-k")
	topK.DefValue = "3"
	_ = topK.Value.Set("3")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	client, err := newLLMClient(v)
	if err != nil {
		return err
	}
	ret, err := newRetriever(v, db, client)
	if err != nil {
		return err
	}
	source := v.GetString("source")
	checkEmbedder(v, db, source)

	passages, err := ret.Retrieve(cmd.Context(), strings.Join(args, " "), source, v.GetInt("top-k"))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(passages) == 0 {
		fmt.Fprintf(out, "No passages found in source %s.\n", source)
		return nil
	}
	for i, p := range passages {
		fmt.Fprintf(out, "#%d  score=%.4f  %s page %d chunk %d\n%s\n\n", i+1, p.Score, p.Document, p.Page, p.Chunk, p.Content)
	}
	return nil
}
