package interview

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	response string
	err      error
	prompt   string
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompt = text.Text
			}
		}
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.response}},
	}, nil
}

func (m *fakeModel) Call(_ context.Context, prompt string, _ ...llms.CallOption) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.prompt = prompt
	return m.response, nil
}

func TestGenerate(t *testing.T) {
	model := &fakeModel{response: `1. What does the config loader validate?
2) How are binary files detected?
- Why does chunking use overlap?`}

	g := New(model, 3)
	questions, err := g.Generate(context.Background(), []string{"chunk one", "chunk two"})
	require.NoError(t, err)

	require.Len(t, questions, 3)
	assert.Equal(t, "What does the config loader validate?", questions[0])
	assert.Equal(t, "How are binary files detected?", questions[1])
	assert.Equal(t, "Why does chunking use overlap?", questions[2])

	assert.True(t, strings.Contains(model.prompt, "chunk one"))
	assert.True(t, strings.Contains(model.prompt, "3 specific technical interview questions"))
}

func TestGenerateNoContext(t *testing.T) {
	g := New(&fakeModel{}, 0)
	_, err := g.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoContext)
}

func TestGenerateModelError(t *testing.T) {
	g := New(&fakeModel{err: errors.New("rate limited")}, 2)
	_, err := g.Generate(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestGenerateUnparseableOutput(t *testing.T) {
	g := New(&fakeModel{response: "I cannot help with that."}, 2)
	_, err := g.Generate(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestParseQuestions(t *testing.T) {
	completion := `Here are the questions:

1. First question?
2. Second question?

Some trailing commentary.`

	questions := ParseQuestions(completion)
	assert.Equal(t, []string{"First question?", "Second question?"}, questions)
}

func TestDefaultQuestionCount(t *testing.T) {
	g := New(&fakeModel{}, -1)
	assert.Equal(t, DefaultQuestionCount, g.questions)
}
