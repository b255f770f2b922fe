package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/kbassist/internal/model"
)

type memChunkStore struct {
	mu       sync.Mutex
	sources  map[string][]model.Source
	chunks   map[string][]model.Chunk
	replaces int
}

func newMemChunkStore() *memChunkStore {
	return &memChunkStore{sources: map[string][]model.Source{}, chunks: map[string][]model.Chunk{}}
}

func (m *memChunkStore) Replace(ctx context.Context, collection string, sources []model.Source, chunks []model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaces++
	m.sources[collection] = append([]model.Source(nil), sources...)
	m.chunks[collection] = append([]model.Chunk(nil), chunks...)
	return nil
}

// Search scores by dot product, which is enough to order the fake vectors.
func (m *memChunkStore) Search(ctx context.Context, collection string, vec []float32, k int) ([]model.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []model.SearchHit
	for _, c := range m.chunks[collection] {
		var score float32
		for i := range vec {
			if i < len(c.Embedding) {
				score += vec[i] * c.Embedding[i]
			}
		}
		hits = append(hits, model.SearchHit{Chunk: c, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *memChunkStore) CountByCollection(ctx context.Context, collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks[collection]), nil
}

func (m *memChunkStore) DeleteCollections(ctx context.Context, collections []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range collections {
		delete(m.chunks, c)
		delete(m.sources, c)
	}
	return nil
}

func (m *memChunkStore) ListByCollection(ctx context.Context, collection string) ([]model.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Source{}, m.sources[collection]...), nil
}

// fakeLoader returns the source name as the single page text, or fails for
// names listed in fail.
type fakeLoader struct {
	fail  map[string]error
	calls []string
}

func (f *fakeLoader) Load(ctx context.Context, src *model.Source) ([]model.Page, error) {
	f.calls = append(f.calls, src.Name)
	if err := f.fail[src.Name]; err != nil {
		return nil, err
	}
	src.PageCount = 1
	return []model.Page{{SourceID: src.ID, Number: 1, Format: model.PageFormatText, Text: "text of " + src.Name}}, nil
}

type lineChunker struct{}

func (lineChunker) Chunk(ctx context.Context, src model.Source, pages []model.Page) ([]model.Chunk, error) {
	var out []model.Chunk
	for _, p := range pages {
		out = append(out, model.Chunk{
			Collection: src.Collection,
			SourceID:   src.ID,
			SourceName: src.Name,
			Page:       p.Number,
			Position:   len(out),
			ChunkType:  model.ChunkTypeText,
			Content:    p.Text,
		})
	}
	return out, nil
}

// keywordEmbedder maps text onto two axes: "alpha" and everything else.
type keywordEmbedder struct {
	err   error
	tasks []string
}

func (k *keywordEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	k.tasks = append(k.tasks, taskType)
	if k.err != nil {
		return nil, k.err
	}
	if strings.Contains(text, "alpha") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func (k *keywordEmbedder) ModelName() string {
	return "fake/keyword"
}

type recordingGenerator struct {
	prompts []string
	answer  string
	err     error
}

func (r *recordingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	r.prompts = append(r.prompts, prompt)
	if r.err != nil {
		return "", r.err
	}
	return r.answer, nil
}

var errBoom = errors.New("boom")
