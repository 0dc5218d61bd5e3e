package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/examgrader/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// Language selects the prompt wording.
type Language string

const (
	// LangEnglish is the default prompt language.
	LangEnglish Language = "en"
	// LangVietnamese matches the textbooks the grader was first built for.
	LangVietnamese Language = "vi"
)

var languages = []Language{LangEnglish, LangVietnamese}

const maxAnswerRunes = 10000

var defaultSubjects = map[Language]string{
	LangEnglish:    "history",
	LangVietnamese: "lịch sử",
}

var (
	loadOnce        sync.Once
	loadErr         error
	mcqTemplates    map[Language]*template.Template
	rubricTemplates map[Language]*template.Template
)

// IsValidLanguage checks if prompts exist for a language.
func IsValidLanguage(lang string) bool {
	for _, l := range languages {
		if string(l) == lang {
			return true
		}
	}
	return false
}

// MCQData holds template data for multiple-choice grading prompts.
type MCQData struct {
	Subject  string
	Context  string
	Question string
}

// RubricData holds template data for rubric scoring prompts.
type RubricData struct {
	Question string
	Answer   string
	MaxScore int
	Criteria []model.Criterion
}

var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
	"points": func(p int) string {
		if p > 0 {
			return "+" + strconv.Itoa(p)
		}
		return strconv.Itoa(p)
	},
}

// Load parses the embedded prompt templates.
// It uses sync.Once to ensure templates are loaded only once.
func Load() error {
	loadOnce.Do(func() {
		mcqTemplates = make(map[Language]*template.Template)
		rubricTemplates = make(map[Language]*template.Template)

		for _, lang := range languages {
			for kind, dst := range map[string]map[Language]*template.Template{
				"mcq":    mcqTemplates,
				"rubric": rubricTemplates,
			} {
				file := "templates/" + kind + "_" + string(lang) + ".tmpl"
				content, err := templateFS.ReadFile(file)
				if err != nil {
					loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
					return
				}
				tmpl, err := template.New(kind).Funcs(funcs).Parse(string(content))
				if err != nil {
					loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
					return
				}
				dst[lang] = tmpl
			}
		}
	})
	return loadErr
}

// lookup loads the templates before choosing the set for kind.
func lookup(kind string, lang Language) (*template.Template, error) {
	if err := Load(); err != nil {
		return nil, fmt.Errorf("templates load failed: %w", err)
	}
	set := mcqTemplates
	if kind == "rubric" {
		set = rubricTemplates
	}
	if tmpl, ok := set[lang]; ok {
		return tmpl, nil
	}
	return set[LangEnglish], nil
}

// BuildMCQPrompt builds the prompt that asks for the correct option of a question.
func BuildMCQPrompt(lang Language, data MCQData) (string, error) {
	tmpl, err := lookup("mcq", lang)
	if err != nil {
		return "", err
	}
	if data.Subject == "" {
		data.Subject = defaultSubjects[lang]
	}
	if data.Subject == "" {
		data.Subject = defaultSubjects[LangEnglish]
	}
	data.Context = strings.TrimSpace(data.Context)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildRubricPrompt builds the prompt that scores a free-text answer against criteria.
func BuildRubricPrompt(lang Language, data RubricData) (string, error) {
	tmpl, err := lookup("rubric", lang)
	if err != nil {
		return "", err
	}
	if len(data.Criteria) == 0 {
		return "", errors.New("rubric has no criteria")
	}
	data.Answer = sanitizeAnswer(data.Answer)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
