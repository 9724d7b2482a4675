package llm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/rapport/pkg/types"
)

func TestFormatTranscript(t *testing.T) {
	msgs := []types.Message{
		{Role: "user", Content: "I love hiking on weekends"},
		{Role: "assistant", Content: "   "},
		{Role: "", Content: "  My dog's name is Rex "},
	}
	got := FormatTranscript(msgs)
	assert.Equal(t, "[1] USER: I love hiking on weekends\n[3] USER: My dog's name is Rex\n", got)
}

func TestMemoryExtractionPrompt(t *testing.T) {
	msgs := []types.Message{{Role: "user", Content: "Work has been stressful lately"}}
	p := MemoryExtractionPrompt(msgs)

	assert.Equal(t, p, MemoryExtractionPrompt(msgs), "prompt must be deterministic")
	assert.Contains(t, p, "[1] USER: Work has been stressful lately")
	assert.Contains(t, p, "lifestyle, behavior, communication, content, other")
	assert.Contains(t, p, "personal, background, event, other")
	assert.Contains(t, p, "permanent, recent, past, unknown")
	assert.Contains(t, p, "low, medium, high")
	for _, key := range []string{`"preferences"`, `"emotional_patterns"`, `"facts"`} {
		assert.Contains(t, p, key)
	}
}

func TestRepairPrompt(t *testing.T) {
	prev := strings.Repeat("x", 2000)
	p := RepairPrompt("ORIGINAL", errors.New("unexpected end of JSON input"), prev)

	assert.True(t, strings.HasPrefix(p, "ORIGINAL"))
	assert.Contains(t, p, "PROBLEM: unexpected end of JSON input")
	assert.Contains(t, p, "ONLY the corrected JSON object")
	assert.NotContains(t, p, prev)
}
