package model

import "time"

// UnknownAnswer marks a question whose correct option could not be determined.
const UnknownAnswer = "?"

// Outcome tells how a grading result was reached.
type Outcome string

const (
	// OutcomeGraded means the model response was recovered and scored.
	OutcomeGraded Outcome = "graded"
	// OutcomeDegraded means the model answered but no JSON object could be
	// recovered; the raw text is surfaced as the explanation.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeFailed means the gateway call itself failed (error or timeout).
	OutcomeFailed Outcome = "failed"
)

// Question is a single parsed exam question.
type Question struct {
	Ordinal       int      `json:"ordinal"`
	Text          string   `json:"text"`
	Stem          string   `json:"stem"`
	Options       []string `json:"options"`
	Points        float64  `json:"points,omitempty"`
	StudentAnswer string   `json:"student_answer"`
}

// Criterion is one entry of the grading rubric.
type Criterion struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	Condition   string `json:"condition" yaml:"condition"`
	Points      int    `json:"points" yaml:"points"`
	Message     string `json:"message" yaml:"message"`
}

// RuleHit is a rubric criterion the model reported as satisfied.
type RuleHit struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Points  int    `json:"score"`
}

// RubricResult is the outcome of scoring a free-text answer against the rubric.
type RubricResult struct {
	Score       int       `json:"score"`
	MaxScore    int       `json:"max_score"`
	Outcome     Outcome   `json:"outcome"`
	Explanation string    `json:"explanation"`
	Hits        []RuleHit `json:"rule_hits"`
}

// GradingResult holds the grade of one multiple-choice question.
type GradingResult struct {
	Ordinal       int     `json:"question_id"`
	Question      string  `json:"question"`
	StudentAnswer string  `json:"student_answer"`
	CorrectAnswer string  `json:"correct_answer"`
	Score         float64 `json:"score"`
	MaxScore      float64 `json:"max_score"`
	Outcome       Outcome `json:"outcome"`
	Explanation   string  `json:"explanation"`
	Feedback      string  `json:"feedback"`
	Context       string  `json:"context,omitempty"`
}

// Correct reports whether the student's answer matched a determined answer.
func (r GradingResult) Correct() bool {
	return r.Outcome == OutcomeGraded && r.MaxScore > 0 && r.Score == r.MaxScore
}

// ExamResult is the result set of one grading run.
type ExamResult struct {
	ID         string          `json:"id"`
	Source     string          `json:"source,omitempty"`
	Results    []GradingResult `json:"results"`
	TotalScore float64         `json:"total_score"`
	MaxScore   float64         `json:"max_score"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Degraded counts results that were not confidently graded.
func (e ExamResult) Degraded() int {
	n := 0
	for _, r := range e.Results {
		if r.Outcome != OutcomeGraded {
			n++
		}
	}
	return n
}

// GradeConfig holds runtime grading parameters set via CLI flags or requests.
type GradeConfig struct {
	ScorePerQuestion  float64       // maximum score of a question
	UseQuestionPoints bool          // prefer points parsed from "Question N (x)."
	UseRetrieval      bool          // inject the top retrieved passage into prompts
	Source            string        // retrieval source (collection) identifier
	TopK              int           // passages requested from the retriever
	Workers           int           // <= 1 grades questions strictly in sequence
	QuestionTimeout   time.Duration // 0 means no per-question budget
}

// MaxScoreFor returns the maximum score a question can earn under this config.
func (c GradeConfig) MaxScoreFor(q Question) float64 {
	if c.UseQuestionPoints && q.Points > 0 {
		return q.Points
	}
	if c.ScorePerQuestion <= 0 {
		return 1
	}
	return c.ScorePerQuestion
}
