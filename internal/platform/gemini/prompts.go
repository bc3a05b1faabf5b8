package gemini

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

type prompts struct {
	system        string
	question      *template.Template
	answerability *template.Template
	analysis      *template.Template
	distribution  *template.Template
}

func loadPrompts() (*prompts, error) {
	funcs := template.FuncMap{"join": strings.Join}
	parse := func(name string) (*template.Template, error) {
		t, err := template.New(name).Funcs(funcs).ParseFS(promptFS, "prompts/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse prompt template %s: %w", name, err)
		}
		return t, nil
	}

	system, err := promptFS.ReadFile("prompts/system.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read system prompt: %w", err)
	}
	p := &prompts{system: strings.TrimSpace(string(system))}
	if p.question, err = parse("question.tmpl"); err != nil {
		return nil, err
	}
	if p.answerability, err = parse("answerability.tmpl"); err != nil {
		return nil, err
	}
	if p.analysis, err = parse("analysis.tmpl"); err != nil {
		return nil, err
	}
	if p.distribution, err = parse("distribution.tmpl"); err != nil {
		return nil, err
	}
	return p, nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// passage is a context chunk as the model sees it. Models cite short labels
// far more reliably than UUIDs, so chunks are labelled C1, C2, ...
type passage struct {
	Label   string
	Section string
	Text    string
}

func labelChunks(chunks []*domain.Chunk) ([]passage, map[string]uuid.UUID) {
	out := make([]passage, 0, len(chunks))
	ids := make(map[string]uuid.UUID, len(chunks))
	for i, ch := range chunks {
		label := fmt.Sprintf("C%d", i+1)
		ids[label] = ch.ID
		out = append(out, passage{
			Label:   label,
			Section: strings.Join(ch.SectionPath, " > "),
			Text:    ch.Content,
		})
	}
	return out, ids
}

type questionPrompt struct {
	Type                 string
	TypeLabel            string
	Difficulty           domain.Difficulty
	Topic                string
	Language             string
	MaxStemLength        int
	Passages             []passage
	PreviousIssues       []domain.ValidationIssue
	OptionCount          int
	RequireJustification bool
	MaxAnswerWords       int
	MinWords             int
	RubricPoints         int
}

var typeLabels = map[domain.QuestionType]string{
	domain.QuestionTypeMCQ:         "multiple choice",
	domain.QuestionTypeTrueFalse:   "true/false",
	domain.QuestionTypeShortAnswer: "short answer",
	domain.QuestionTypeEssay:       "essay",
}

type answerabilityPrompt struct {
	Passages []passage
	Stem     string
	Options  []string
	Answer   string
}

type analysisPrompt struct {
	Excerpt string
}

type distributionPrompt struct {
	Total      int
	Types      []string
	Topics     []string
	Focus      []string
	Difficulty domain.Difficulty
}
