package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"

	"github.com/xxxsen/kbassist/internal/model"
)

const (
	markdownChunkTokens   = 400
	markdownOverlapTokens = 80
	codeSummaryTokens     = 300
)

// MarkdownChunker splits markdown along h1/h2 headings and fenced code blocks.
// Chunks stay within the splitter's size; longer paragraphs and code blocks are
// cut by the splitter. When gen is set, code blocks longer than codeSummaryTokens
// are replaced by a summary.
type MarkdownChunker struct {
	gen      IGenerator
	splitter *TextSplitter
}

func NewMarkdownChunker(gen IGenerator, splitter *TextSplitter) *MarkdownChunker {
	if splitter == nil {
		splitter = NewTextSplitter(DefaultChunkSize, DefaultChunkOverlap)
	}
	return &MarkdownChunker{gen: gen, splitter: splitter}
}

func (c *MarkdownChunker) Chunk(ctx context.Context, markdown string) ([]model.Chunk, error) {
	logger := logutil.GetLogger(ctx)
	md := goldmark.New()
	reader := text.NewReader([]byte(markdown))
	doc := md.Parser().Parse(reader)

	var chunks []model.Chunk
	var current []string
	var currentTokens, currentRunes int
	currentType := model.ChunkTypeText
	var currentHeading string
	position := 0

	// limit is the body size left once the heading prefix is added.
	limit := func() int {
		if currentHeading == "" {
			return c.splitter.size
		}
		n := c.splitter.size - utf8.RuneCountInString(currentHeading) - 2
		if n < c.splitter.size/2 {
			n = c.splitter.size / 2
		}
		return n
	}
	reset := func() {
		current = nil
		currentTokens = 0
		currentRunes = 0
	}
	emit := func(content string, chunkType model.ChunkType) {
		if currentHeading != "" {
			content = currentHeading + "\n\n" + content
		}
		chunks = append(chunks, model.Chunk{
			Content:    content,
			TokenCount: EstimateTokens(content),
			ChunkType:  chunkType,
			Position:   position,
		})
		position++
	}
	flush := func() {
		if len(current) == 0 {
			return
		}
		emit(strings.Join(current, "\n\n"), currentType)
		if currentType == model.ChunkTypeText && len(current) > 1 {
			var overlap []string
			overlapTokens, overlapRunes := 0, 0
			for i := len(current) - 1; i >= 0; i-- {
				t := EstimateTokens(current[i])
				r := utf8.RuneCountInString(current[i])
				if overlapTokens+t > markdownOverlapTokens || overlapRunes+r > c.splitter.overlap {
					break
				}
				overlapTokens += t
				overlapRunes += r
				overlap = append([]string{current[i]}, overlap...)
			}
			current = overlap
			currentTokens = overlapTokens
			currentRunes = utf8.RuneCountInString(strings.Join(overlap, "\n\n"))
		} else {
			reset()
		}
		currentType = model.ChunkTypeText
	}
	// grown is the joined body size once n more runes are appended.
	grown := func(n int) int {
		if len(current) == 0 {
			return n
		}
		return currentRunes + 2 + n
	}
	addText := func(txt string) {
		for _, part := range c.fit(txt, limit()) {
			tokens := EstimateTokens(part)
			runes := utf8.RuneCountInString(part)
			if currentTokens+tokens > markdownChunkTokens || grown(runes) > limit() {
				flush()
			}
			if grown(runes) > limit() {
				reset()
			}
			currentRunes = grown(runes)
			current = append(current, part)
			currentTokens += tokens
		}
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			heading := string(n.Text(reader.Source()))
			if n.Level <= 2 {
				flush()
				reset()
				currentHeading = heading
				continue
			}
			addText(heading)
		case *ast.FencedCodeBlock:
			lang := string(n.Language(reader.Source()))
			var sb strings.Builder
			for i := 0; i < n.Lines().Len(); i++ {
				line := n.Lines().At(i)
				sb.Write(line.Value(reader.Source()))
			}
			code := sb.String()
			tokens := EstimateTokens(code)
			if tokens > codeSummaryTokens && c.gen != nil {
				summary, err := c.summarizeCode(ctx, code)
				if err == nil {
					flush()
					reset()
					content := fmt.Sprintf("code (%s) summary: %s", langOrPlain(lang), summary)
					for _, part := range c.fit(content, limit()) {
						emit(part, model.ChunkTypeCode)
					}
					continue
				}
				logger.Warn("summarize code block failed, keep original code", zap.Error(err))
			}
			block := "```" + lang + "\n" + code + "```"
			runes := utf8.RuneCountInString(block)
			if currentTokens > 0 && currentTokens+tokens <= markdownChunkTokens && grown(runes) <= limit() {
				currentRunes = grown(runes)
				current = append(current, block)
				currentTokens += tokens
				currentType = model.ChunkTypeMixed
				continue
			}
			flush()
			reset()
			if runes > limit() {
				for _, part := range c.splitter.splitWithin(code, limit()) {
					emit(part, model.ChunkTypeCode)
				}
				continue
			}
			current = []string{block}
			currentTokens = tokens
			currentRunes = runes
			currentType = model.ChunkTypeCode
			flush()
		default:
			txt := extractText(n, reader.Source())
			if txt == "" {
				continue
			}
			addText(txt)
		}
	}
	flush()
	logger.Debug("markdown chunking finished", zap.Int("size", len(markdown)), zap.Int("chunks", len(chunks)))
	return chunks, nil
}

// fit returns txt as is when it fits in limit runes, otherwise its splitter windows.
func (c *MarkdownChunker) fit(txt string, limit int) []string {
	if utf8.RuneCountInString(txt) <= limit {
		return []string{txt}
	}
	return c.splitter.splitWithin(txt, limit)
}

func (c *MarkdownChunker) summarizeCode(ctx context.Context, code string) (string, error) {
	prompt := fmt.Sprintf("Summarize the following code block in 1-2 sentences. Focus on its purpose and key logic.\n\nCODE:\n%s", code)
	return c.gen.Generate(ctx, prompt)
}

func langOrPlain(lang string) string {
	if lang == "" {
		return "plain"
	}
	return lang
}

// EstimateTokens counts words plus one token per non-ascii rune.
func EstimateTokens(text string) int {
	count := 0
	for _, r := range text {
		if r > 127 {
			count++
		}
	}
	count += len(strings.Fields(text))
	if count == 0 && len(text) > 0 {
		return 1
	}
	return count
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.ListItem:
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
		case *ast.Text:
			sb.Write(v.Segment.Value(source))
			if v.SoftLineBreak() || v.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.String:
			sb.Write(v.Value)
		case *ast.CodeBlock:
			for i := 0; i < v.Lines().Len(); i++ {
				line := v.Lines().At(i)
				sb.Write(line.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
