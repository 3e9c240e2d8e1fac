// Package interview generates interview-style questions about an
// indexed repository from retrieved context.
package interview

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// ErrNoContext is returned when no context chunks are supplied.
var ErrNoContext = errors.New("interview: no context provided")

// DefaultQuestionCount is the number of questions requested by default.
const DefaultQuestionCount = 5

const promptTemplate = `You are interviewing a developer about the following codebase excerpts.

%s

Write %d specific technical interview questions that can be answered from these excerpts alone. Number each question on its own line. Do not include answers.`

// Generator produces questions via an LLM.
type Generator struct {
	llm       llms.Model
	questions int
}

// New creates a Generator. count <= 0 uses DefaultQuestionCount.
func New(llm llms.Model, count int) *Generator {
	if count <= 0 {
		count = DefaultQuestionCount
	}
	return &Generator{llm: llm, questions: count}
}

// Generate asks the model for questions grounded on the given chunks.
func (g *Generator) Generate(ctx context.Context, chunks []string) ([]string, error) {
	if len(chunks) == 0 {
		return nil, ErrNoContext
	}

	var excerpts strings.Builder
	for i, chunk := range chunks {
		fmt.Fprintf(&excerpts, "Excerpt %d:\n%s\n\n", i+1, chunk)
	}

	prompt := fmt.Sprintf(promptTemplate, strings.TrimSpace(excerpts.String()), g.questions)

	completion, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt,
		llms.WithTemperature(0.7))
	if err != nil {
		return nil, fmt.Errorf("generating questions: %w", err)
	}

	questions := ParseQuestions(completion)
	if len(questions) == 0 {
		return nil, fmt.Errorf("model returned no parseable questions")
	}
	return questions, nil
}

// leadingMarker matches list numbering or bullets at the start of a line.
var leadingMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)

// ParseQuestions extracts one question per non-empty line, stripping
// list numbering and bullet markers.
func ParseQuestions(completion string) []string {
	var questions []string
	for _, line := range strings.Split(completion, "\n") {
		line = strings.TrimSpace(leadingMarker.ReplaceAllString(line, ""))
		if line == "" || !strings.Contains(line, "?") {
			continue
		}
		questions = append(questions, line)
	}
	return questions
}
