package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbassist/internal/model"
)

type stubGenerator struct {
	out   string
	err   error
	calls int
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	s.calls++
	return s.out, s.err
}

func TestMarkdownChunkerSplitsOnHeadings(t *testing.T) {
	md := "# Intro\n\nFirst paragraph.\n\n## Usage\n\nSecond paragraph.\n"
	chunks, err := NewMarkdownChunker(nil, nil).Chunk(context.Background(), md)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Contains(t, chunks[0].Content, "Intro")
	require.Contains(t, chunks[0].Content, "First paragraph.")
	require.Contains(t, chunks[1].Content, "Usage")
	require.Contains(t, chunks[1].Content, "Second paragraph.")
	require.Equal(t, 0, chunks[0].Position)
	require.Equal(t, 1, chunks[1].Position)
}

func TestMarkdownChunkerCodeBlocks(t *testing.T) {
	md := "Some text here.\n\n```go\nfunc main() {}\n```\n"
	chunks, err := NewMarkdownChunker(nil, nil).Chunk(context.Background(), md)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, model.ChunkTypeMixed, chunks[0].ChunkType)
	require.Contains(t, chunks[0].Content, "func main() {}")
}

func TestMarkdownChunkerSummarizesLongCode(t *testing.T) {
	long := strings.Repeat("x := 1\n", 400)
	md := "```go\n" + long + "```\n"
	gen := &stubGenerator{out: "sets x repeatedly"}
	chunks, err := NewMarkdownChunker(gen, nil).Chunk(context.Background(), md)
	require.NoError(t, err)
	require.Equal(t, 1, gen.calls)
	require.Len(t, chunks, 1)
	require.Equal(t, model.ChunkTypeCode, chunks[0].ChunkType)
	require.Contains(t, chunks[0].Content, "sets x repeatedly")
}

func TestMarkdownChunkerKeepsCodeWhenSummaryFails(t *testing.T) {
	long := strings.Repeat("x := 1\n", 400)
	gen := &stubGenerator{err: errors.New("boom")}
	chunks, err := NewMarkdownChunker(gen, nil).Chunk(context.Background(), "```go\n"+long+"```\n")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	require.Equal(t, 1, gen.calls)
	for _, ch := range chunks {
		require.Equal(t, model.ChunkTypeCode, ch.ChunkType)
		require.Contains(t, ch.Content, "x := 1")
	}
}

func TestMarkdownChunkerRespectsChunkSize(t *testing.T) {
	words := strings.TrimSpace(strings.Repeat("word ", 5000))
	md := "# Manual\n\n" + words + "\n\nshort closing line\n"
	chunks, err := NewMarkdownChunker(nil, NewTextSplitter(200, 20)).Chunk(context.Background(), md)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 100)
	for i, ch := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(ch.Content), 200, "chunk %d", i)
		require.True(t, strings.HasPrefix(ch.Content, "Manual\n\n"), "chunk %d lost its heading", i)
		require.Equal(t, i, ch.Position)
	}
	require.Contains(t, chunks[len(chunks)-1].Content, "short closing line")
}

func TestMarkdownChunkerSplitsLongCodeWithoutSummary(t *testing.T) {
	long := strings.Repeat("x := 1\n", 400)
	chunks, err := NewMarkdownChunker(nil, NewTextSplitter(300, 30)).Chunk(context.Background(), "```go\n"+long+"```\n")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		require.Equal(t, model.ChunkTypeCode, ch.ChunkType)
		require.LessOrEqual(t, utf8.RuneCountInString(ch.Content), 300)
	}
}

func TestMarkdownChunkerJoinsParagraphsWithinSize(t *testing.T) {
	para := strings.TrimSpace(strings.Repeat("alpha ", 15))
	md := strings.Repeat(para+"\n\n", 10)
	chunks, err := NewMarkdownChunker(nil, NewTextSplitter(250, 0)).Chunk(context.Background(), md)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(ch.Content), 250)
	}
}

func TestMarkdownChunkerEmpty(t *testing.T) {
	chunks, err := NewMarkdownChunker(nil, nil).Chunk(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, 0, EstimateTokens(""))
	require.Equal(t, 2, EstimateTokens("hello world"))
	require.Equal(t, 4, EstimateTokens("知识库"))
}
