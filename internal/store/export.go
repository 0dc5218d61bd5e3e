package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/examgrader/internal/model"
)

// ExportRuns builds an export of every stored run with its results.
func (s *Store) ExportRuns() (model.RunExport, error) {
	summaries, err := s.ListRuns()
	if err != nil {
		return model.RunExport{}, fmt.Errorf("list runs: %w", err)
	}

	export := model.RunExport{
		ExportedAt: time.Now().UTC(),
		Runs:       []model.ExamResult{},
	}
	for _, sum := range summaries {
		run, err := s.GetRun(sum.ID)
		if err != nil {
			return model.RunExport{}, fmt.Errorf("get run %s: %w", sum.ID, err)
		}
		export.Runs = append(export.Runs, run)
	}
	export.NumRuns = len(export.Runs)
	return export, nil
}
