package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbassist/internal/ai"
	"github.com/xxxsen/kbassist/internal/filestore"
	"github.com/xxxsen/kbassist/internal/ingest"
	"github.com/xxxsen/kbassist/internal/model"
	appErr "github.com/xxxsen/kbassist/internal/pkg/errors"
	"github.com/xxxsen/kbassist/internal/pkg/timeutil"
)

type ChunkStore interface {
	Replace(ctx context.Context, collection string, sources []model.Source, chunks []model.Chunk) error
	Search(ctx context.Context, collection string, vec []float32, k int) ([]model.SearchHit, error)
	CountByCollection(ctx context.Context, collection string) (int, error)
	DeleteCollections(ctx context.Context, collections []string) error
}

type SourceStore interface {
	ListByCollection(ctx context.Context, collection string) ([]model.Source, error)
}

type PageLoader interface {
	Load(ctx context.Context, src *model.Source) ([]model.Page, error)
}

type PageChunker interface {
	Chunk(ctx context.Context, src model.Source, pages []model.Page) ([]model.Chunk, error)
}

type UploadedFile struct {
	Name   string
	Size   int64
	Reader io.ReadSeeker
}

// LoadRequest holds the optional inputs of one knowledge base load. Blank
// fields are ignored.
type LoadRequest struct {
	PDFURL     string
	WebsiteURL string
	File       *UploadedFile
}

type KnowledgeServiceDeps struct {
	Chunks         ChunkStore
	Sources        SourceStore
	Files          filestore.Store
	Loader         PageLoader
	Chunker        PageChunker
	Embedder       ai.IEmbedder
	MaxUploadBytes int64
}

type KnowledgeService struct {
	deps KnowledgeServiceDeps
}

func NewKnowledgeService(deps KnowledgeServiceDeps) *KnowledgeService {
	return &KnowledgeService{deps: deps}
}

// Load rebuilds the collection from the given sources. Every source is
// extracted, chunked and embedded before anything is written, and the write
// replaces the previous content in one transaction.
func (s *KnowledgeService) Load(ctx context.Context, collection string, req LoadRequest) (*model.KnowledgeBase, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("collection", collection))
	sources, err := s.buildSources(ctx, collection, req)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, appErr.ErrNoSource
	}
	var chunks []model.Chunk
	for i := range sources {
		pages, err := s.deps.Loader.Load(ctx, &sources[i])
		if err != nil {
			s.dropStaged(ctx, sources[i+1:])
			logger.Error("load source failed", zap.String("source", sources[i].Name), zap.Error(err))
			return nil, err
		}
		items, err := s.deps.Chunker.Chunk(ctx, sources[i], pages)
		if err != nil {
			s.dropStaged(ctx, sources[i+1:])
			return nil, &appErr.IngestError{Source: sources[i].Name, Err: err}
		}
		if len(items) == 0 {
			s.dropStaged(ctx, sources[i+1:])
			return nil, &appErr.IngestError{Source: sources[i].Name, Err: appErr.ErrEmptyContent}
		}
		sources[i].ChunkCount = len(items)
		chunks = append(chunks, items...)
	}
	now := timeutil.NowUnix()
	for i := range chunks {
		vec, err := s.deps.Embedder.Embed(ctx, chunks[i].Content, model.TaskRetrievalDocument)
		if err != nil {
			logger.Error("embed chunk failed", zap.Int("position", chunks[i].Position), zap.Error(err))
			return nil, &appErr.UpstreamError{Provider: s.deps.Embedder.ModelName(), Err: err}
		}
		chunks[i].ID = newID()
		chunks[i].Embedding = vec
		chunks[i].Ctime = now
	}
	if err := s.deps.Chunks.Replace(ctx, collection, sources, chunks); err != nil {
		logger.Error("write knowledge base failed", zap.Error(err))
		return nil, fmt.Errorf("write knowledge base: %w", err)
	}
	logger.Info("knowledge base loaded", zap.Int("sources", len(sources)), zap.Int("chunks", len(chunks)))
	return &model.KnowledgeBase{Collection: collection, Sources: sources, ChunkCount: len(chunks)}, nil
}

func (s *KnowledgeService) buildSources(ctx context.Context, collection string, req LoadRequest) ([]model.Source, error) {
	now := timeutil.NowUnix()
	var sources []model.Source
	if u := strings.TrimSpace(req.PDFURL); u != "" {
		sources = append(sources, model.Source{ID: newID(), Collection: collection, Kind: model.SourceKindPDFURL, Name: u, Ctime: now})
	}
	if req.File != nil && req.File.Name != "" {
		src, err := s.stageFile(ctx, collection, req.File)
		if err != nil {
			return nil, err
		}
		src.Ctime = now
		sources = append(sources, *src)
	}
	if u := strings.TrimSpace(req.WebsiteURL); u != "" {
		sources = append(sources, model.Source{ID: newID(), Collection: collection, Kind: model.SourceKindWebsite, Name: u, Ctime: now})
	}
	return sources, nil
}

func (s *KnowledgeService) stageFile(ctx context.Context, collection string, file *UploadedFile) (*model.Source, error) {
	name := filepath.Base(file.Name)
	if !ingest.SupportedFile(name) {
		return nil, &appErr.IngestError{Source: name, Err: appErr.ErrUnsupportedFile}
	}
	if s.deps.MaxUploadBytes > 0 && file.Size > s.deps.MaxUploadBytes {
		return nil, &appErr.IngestError{Source: name, Err: appErr.ErrFileTooLarge}
	}
	if file.Size == 0 {
		return nil, &appErr.IngestError{Source: name, Err: appErr.ErrEmptyContent}
	}
	id := newID()
	key := id + strings.ToLower(filepath.Ext(name))
	if err := s.deps.Files.Save(ctx, key, file.Reader, file.Size); err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	return &model.Source{ID: id, Collection: collection, Kind: model.SourceKindFile, Name: name, FileKey: key}, nil
}

func (s *KnowledgeService) dropStaged(ctx context.Context, sources []model.Source) {
	for _, src := range sources {
		if src.FileKey == "" {
			continue
		}
		if err := s.deps.Files.Delete(ctx, src.FileKey); err != nil {
			logutil.GetLogger(ctx).Warn("remove staged file failed", zap.String("key", src.FileKey), zap.Error(err))
		}
	}
}

func (s *KnowledgeService) Status(ctx context.Context, collection string) (*model.KnowledgeBase, error) {
	sources, err := s.deps.Sources.ListByCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	count, err := s.deps.Chunks.CountByCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return &model.KnowledgeBase{Collection: collection, Sources: sources, ChunkCount: count}, nil
}

func (s *KnowledgeService) Search(ctx context.Context, collection, query string, topK int) ([]model.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, appErr.ErrInvalid
	}
	vec, err := s.deps.Embedder.Embed(ctx, query, model.TaskRetrievalQuery)
	if err != nil {
		return nil, &appErr.UpstreamError{Provider: s.deps.Embedder.ModelName(), Err: err}
	}
	return s.deps.Chunks.Search(ctx, collection, vec, topK)
}

func (s *KnowledgeService) Delete(ctx context.Context, collection string) error {
	return s.deps.Chunks.DeleteCollections(ctx, []string{collection})
}
