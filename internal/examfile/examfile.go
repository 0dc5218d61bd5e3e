// Package examfile parses plain-text multiple-choice exams.
//
// Each question block starts with a marker line such as "Question 3." or
// "Câu 3 (0.5 điểm)." and continues until the next marker. The first
// non-empty line after the marker is the question stem, the remaining
// non-empty lines are the answer options.
package examfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/examgrader/internal/model"
)

// DefaultMarkers are the question marker words recognized out of the box.
var DefaultMarkers = []string{"Question", "Câu"}

// ErrNoOptions is returned under OptionsReject for a block without options.
var ErrNoOptions = errors.New("question has no answer options")

// ErrNoQuestions is returned when the text contains no marker at all.
var ErrNoQuestions = errors.New("no questions found")

// OptionsPolicy decides what to do with a question block that has no options.
type OptionsPolicy string

const (
	// OptionsAccept keeps the question with an empty option list.
	OptionsAccept OptionsPolicy = "accept"
	// OptionsReject fails the parse.
	OptionsReject OptionsPolicy = "reject"
)

// ParseOptionsPolicy validates a policy name.
func ParseOptionsPolicy(s string) (OptionsPolicy, error) {
	switch p := OptionsPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case OptionsAccept, OptionsReject:
		return p, nil
	case "":
		return OptionsAccept, nil
	}
	return "", fmt.Errorf("unknown options policy %q (want accept or reject)", s)
}

// Parser splits exam text into questions.
type Parser struct {
	marker  string
	pattern *regexp.Regexp
	policy  OptionsPolicy
}

// NewParser creates a parser for the given marker words. The first word is
// used when standardizing question text. With no markers, DefaultMarkers
// are used.
func NewParser(policy OptionsPolicy, markers ...string) *Parser {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	quoted := make([]string, len(markers))
	for i, m := range markers {
		quoted[i] = regexp.QuoteMeta(m)
	}
	// Marker, number, optional "(points)" and a closing period, at line start.
	pattern := regexp.MustCompile(`(?m)^[ \t]*(?:` + strings.Join(quoted, "|") + `)[ \t]+(\d+)(?:[ \t]*\(([^)]*)\))?[ \t]*\.`)
	if policy == "" {
		policy = OptionsAccept
	}
	return &Parser{marker: markers[0], pattern: pattern, policy: policy}
}

// ParseFile reads and parses an exam file.
func (p *Parser) ParseFile(path string) ([]model.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read exam %s: %w", path, err)
	}
	return p.Parse(string(data))
}

// Parse splits text into questions numbered 1..n in order of appearance.
func (p *Parser) Parse(text string) ([]model.Question, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	locs := p.pattern.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil, ErrNoQuestions
	}

	var questions []model.Question
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := text[loc[1]:end]

		var lines []string
		for _, l := range strings.Split(body, "\n") {
			if l = strings.TrimSpace(l); l != "" {
				lines = append(lines, l)
			}
		}
		if len(lines) == 0 {
			continue
		}

		ordinal := len(questions) + 1
		stem, options := lines[0], lines[1:]
		if len(options) == 0 && p.policy == OptionsReject {
			return nil, fmt.Errorf("question %d: %w", ordinal, ErrNoOptions)
		}

		var points float64
		if loc[4] >= 0 {
			points = parsePoints(text[loc[4]:loc[5]])
		}

		q := model.Question{
			Ordinal: ordinal,
			Stem:    stem,
			Options: options,
			Points:  points,
		}
		q.Text = fmt.Sprintf("%s %d. %s", p.marker, ordinal, stem)
		if len(options) > 0 {
			q.Text += "\n" + strings.Join(options, "\n")
		}
		questions = append(questions, q)
	}

	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	return questions, nil
}

var numberRegex = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// parsePoints extracts the first number of a "(0,5 điểm)" style annotation.
func parsePoints(s string) float64 {
	m := numberRegex.FindString(s)
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil {
		return 0
	}
	return f
}

// AssignAnswers sets student answers on questions in order. It returns the
// number of answers that did not match any question.
func AssignAnswers(questions []model.Question, answers []string) int {
	for i := range questions {
		if i < len(answers) {
			questions[i].StudentAnswer = answers[i]
		}
	}
	if len(answers) > len(questions) {
		return len(answers) - len(questions)
	}
	return 0
}

var ordinalAnswerRegex = regexp.MustCompile(`^(\d+)\s*[:.)\-]\s*(.*)$`)

// ReadAnswers parses an answer sheet. Each non-empty line is either a bare
// answer ("C"), taken in order, or an ordinal-prefixed answer ("3: C",
// "3. C", "3) C"). Lines starting with '#' are comments.
func ReadAnswers(r io.Reader) ([]string, error) {
	var answers []string
	byOrdinal := make(map[int]string)
	maxOrdinal := 0

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if m := ordinalAnswerRegex.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid question number in %q", line)
			}
			byOrdinal[n] = strings.TrimSpace(m[2])
			maxOrdinal = max(maxOrdinal, n)
			continue
		}
		answers = append(answers, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(byOrdinal) == 0 {
		return answers, nil
	}
	if len(answers) > 0 {
		return nil, errors.New("answer sheet mixes numbered and unnumbered lines")
	}
	out := make([]string, maxOrdinal)
	for n, a := range byOrdinal {
		out[n-1] = a
	}
	return out, nil
}

// SplitAnswers parses a comma-separated answer list such as "C,A,D".
func SplitAnswers(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
