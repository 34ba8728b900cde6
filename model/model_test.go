package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticGenerator(t *testing.T) {
	g := &Static{Reply: "fixed answer"}
	out, err := g.Generate(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "fixed answer", out)
}

func TestStaticGeneratorError(t *testing.T) {
	boom := errors.New("backend down")
	g := &Static{Err: boom}
	_, err := g.Generate(context.Background(), "anything")
	require.ErrorIs(t, err, boom)
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAI(OpenAIConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestNewOpenAIUsesConfigKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	g, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: "http://localhost:11434/v1"})
	require.NoError(t, err)
	assert.NotNil(t, g)
}
