package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbassist/internal/config"
)

type GeneratorEntry struct {
	Name      string
	Generator IGenerator
}

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

type groupGenerator struct {
	items []GeneratorEntry
}

// NewGroupGenerator tries each generator in order and returns the first success.
func NewGroupGenerator(items []GeneratorEntry) IGenerator {
	if len(items) == 0 {
		return nil
	}
	return &groupGenerator{items: items}
}

func (g *groupGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Generator == nil {
			continue
		}
		res, err := item.Generator.Generate(ctx, prompt)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("generator failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return "", fmt.Errorf("generator not configured")
	}
	return "", lastErr
}

type groupEmbedder struct {
	items []EmbedderEntry
}

// NewGroupEmbedder tries each embedder in order. All entries must produce vectors
// of the same dimension, otherwise stored and query vectors are not comparable.
func NewGroupEmbedder(items []EmbedderEntry) IEmbedder {
	if len(items) == 0 {
		return nil
	}
	return &groupEmbedder{items: items}
}

func (g *groupEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Embedder == nil {
			continue
		}
		res, err := item.Embedder.Embed(ctx, text, taskType)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("embedder failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	return nil, lastErr
}

// ModelName names the whole group for logs; caches sit below the group.
func (g *groupEmbedder) ModelName() string {
	names := make([]string, 0, len(g.items))
	for _, item := range g.items {
		if item.Embedder == nil {
			continue
		}
		names = append(names, item.Embedder.ModelName())
	}
	return strings.Join(names, "|")
}

func entryName(item config.ProviderConfig) string {
	if name := strings.TrimSpace(item.Name); name != "" {
		return name
	}
	return item.Provider + "/" + item.Model
}

func BuildGenerator(items []config.ProviderConfig) (IGenerator, error) {
	entries := make([]GeneratorEntry, 0, len(items))
	for _, item := range items {
		p, err := NewProvider(item.Provider, item.Data)
		if err != nil {
			return nil, fmt.Errorf("init generator %s: %w", entryName(item), err)
		}
		entries = append(entries, GeneratorEntry{Name: entryName(item), Generator: NewGenerator(p, item.Model)})
	}
	if len(entries) == 1 {
		return entries[0].Generator, nil
	}
	return NewGroupGenerator(entries), nil
}

// EmbedderWrapper decorates a single configured embedder, e.g. with a cache.
type EmbedderWrapper func(IEmbedder) IEmbedder

// BuildEmbedder applies wraps to every entry before grouping, so a cached vector
// is always keyed by the model that produced it.
func BuildEmbedder(items []config.ProviderConfig, wraps ...EmbedderWrapper) (IEmbedder, error) {
	entries := make([]EmbedderEntry, 0, len(items))
	for _, item := range items {
		p, err := NewEmbedProvider(item.Provider, item.Data)
		if err != nil {
			return nil, fmt.Errorf("init embedder %s: %w", entryName(item), err)
		}
		e := NewEmbedder(p, item.Model)
		for _, wrap := range wraps {
			e = wrap(e)
		}
		entries = append(entries, EmbedderEntry{Name: entryName(item), Embedder: e})
	}
	if len(entries) == 1 {
		return entries[0].Embedder, nil
	}
	return NewGroupEmbedder(entries), nil
}
