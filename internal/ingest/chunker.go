package ingest

import (
	"context"
	"fmt"

	"github.com/xxxsen/kbassist/internal/ai"
	"github.com/xxxsen/kbassist/internal/embedcache"
	"github.com/xxxsen/kbassist/internal/model"
)

// Chunker turns extracted pages into chunks: plain text by character windows,
// markdown along its heading structure.
type Chunker struct {
	splitter *ai.TextSplitter
	markdown *ai.MarkdownChunker
}

func NewChunker(size, overlap int, gen ai.IGenerator) *Chunker {
	splitter := ai.NewTextSplitter(size, overlap)
	return &Chunker{
		splitter: splitter,
		markdown: ai.NewMarkdownChunker(gen, splitter),
	}
}

func (c *Chunker) Chunk(ctx context.Context, src model.Source, pages []model.Page) ([]model.Chunk, error) {
	var out []model.Chunk
	for _, page := range pages {
		var contents []model.Chunk
		if page.Format == model.PageFormatMarkdown {
			items, err := c.markdown.Chunk(ctx, page.Text)
			if err != nil {
				return nil, fmt.Errorf("chunk %s: %w", src.Name, err)
			}
			contents = items
		} else {
			for _, part := range c.splitter.Split(page.Text) {
				contents = append(contents, model.Chunk{Content: part, ChunkType: model.ChunkTypeText})
			}
		}
		name := src.Name
		if src.Kind == model.SourceKindWebsite && page.URL != "" {
			name = page.URL
		}
		for _, item := range contents {
			item.Collection = src.Collection
			item.SourceID = src.ID
			item.SourceName = name
			item.Page = page.Number
			item.Position = len(out)
			item.ContentHash = embedcache.ContentHash(item.Content)
			if item.TokenCount == 0 {
				item.TokenCount = ai.EstimateTokens(item.Content)
			}
			out = append(out, item)
		}
	}
	return out, nil
}
