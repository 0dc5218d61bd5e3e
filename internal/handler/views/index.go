// Package views renders the HTML pages of the grading server.
package views

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/pavelanni/examgrader/internal/i18n"
)

// IndexData holds the form defaults shown on the index page.
type IndexData struct {
	MaxScore     int
	UseRetrieval bool
	Source       string
}

// Layout wraps body in the page skeleton.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
<style>
body { font-family: sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; }
label { display: block; margin-top: .75rem; font-weight: bold; }
textarea, input[type=text], input[type=number] { width: 100%%; box-sizing: border-box; }
pre { background: #f4f4f4; padding: 1rem; white-space: pre-wrap; }
section { border-top: 1px solid #ddd; margin-top: 2rem; }
</style>
</head>
<body>
`, templ.EscapeString(title)); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n</body>\n</html>\n")
		return err
	})
}

// IndexPage renders the essay scoring and exam grading forms.
func IndexPage(data IndexData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		t := func(id string) string { return templ.EscapeString(i18n.T(ctx, id)) }
		body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
			checked := ""
			if data.UseRetrieval {
				checked = " checked"
			}
			_, err := fmt.Fprintf(w, `<h1>%s</h1>
<p>%s</p>
<section>
<h2>%s</h2>
<form id="score-form">
<label for="question">%s</label>
<textarea id="question" name="question" rows="3" required></textarea>
<label for="answer">%s</label>
<textarea id="answer" name="answer" rows="6"></textarea>
<label for="max_score">%s</label>
<input type="number" id="max_score" name="max_score" min="1" value="%s">
<p><button type="submit">%s</button></p>
</form>
<h3>%s</h3>
<pre id="score-result"></pre>
</section>
<section>
<h2>%s</h2>
<form id="grade-form">
<label for="exam_text">%s</label>
<textarea id="exam_text" name="exam_text" rows="12" required></textarea>
<label for="answers">%s</label>
<input type="text" id="answers" name="answers" placeholder="C,A,D">
<label><input type="checkbox" id="use_retrieval" name="use_retrieval"%s> %s</label>
<label for="source">%s</label>
<input type="text" id="source" name="source" value="%s">
<p><button type="submit">%s</button></p>
</form>
<h3>%s</h3>
<pre id="grade-result"></pre>
</section>
<script>
async function post(url, body, out) {
  const res = await fetch(url, {method: "POST", headers: {"Content-Type": "application/json"}, body: JSON.stringify(body)});
  document.getElementById(out).textContent = JSON.stringify(await res.json(), null, 2);
}
document.getElementById("score-form").addEventListener("submit", e => {
  e.preventDefault();
  post("score", {
    question: document.getElementById("question").value,
    answer: document.getElementById("answer").value,
    max_score: parseInt(document.getElementById("max_score").value, 10)
  }, "score-result");
});
document.getElementById("grade-form").addEventListener("submit", e => {
  e.preventDefault();
  const answers = document.getElementById("answers").value.split(",").map(s => s.trim()).filter(s => s);
  post("grade", {
    exam_text: document.getElementById("exam_text").value,
    answers: answers,
    use_retrieval: document.getElementById("use_retrieval").checked,
    source: document.getElementById("source").value
  }, "grade-result");
});
</script>`,
				t("AppTitle"), t("AppSubtitle"),
				t("ScoreTitle"), t("QuestionLabel"), t("AnswerLabel"), t("MaxScoreLabel"),
				strconv.Itoa(data.MaxScore), t("ScoreButton"), t("ResultLabel"),
				t("GradeTitle"), t("ExamTextLabel"), t("AnswersLabel"),
				checked, t("UseRetrievalLabel"), t("SourceLabel"), templ.EscapeString(data.Source),
				t("GradeButton"), t("ResultLabel"),
			)
			return err
		})
		return Layout(i18n.T(ctx, "AppTitle"), body).Render(ctx, w)
	})
}
