package model

import "time"

// RunExport is the top-level JSON structure for exporting grading runs.
type RunExport struct {
	ExportedAt time.Time    `json:"exported_at"`
	NumRuns    int          `json:"num_runs"`
	Runs       []ExamResult `json:"runs"`
}

// RunSummary is a short listing entry for a stored run.
type RunSummary struct {
	ID           string    `json:"id"`
	Source       string    `json:"source,omitempty"`
	NumQuestions int       `json:"num_questions"`
	TotalScore   float64   `json:"total_score"`
	MaxScore     float64   `json:"max_score"`
	StartedAt    time.Time `json:"started_at"`
}
