package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbassist/internal/ai"
	"github.com/xxxsen/kbassist/internal/config"
	"github.com/xxxsen/kbassist/internal/db"
	"github.com/xxxsen/kbassist/internal/embedcache"
	"github.com/xxxsen/kbassist/internal/filestore"
	"github.com/xxxsen/kbassist/internal/ingest"
	"github.com/xxxsen/kbassist/internal/repo"
	"github.com/xxxsen/kbassist/internal/service"
)

// app holds the wired components shared by the server and the cli commands.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	sources   *repo.SourceRepo
	chunks    *repo.ChunkRepo
	cacheRepo *repo.EmbeddingCacheRepo
	knowledge *service.KnowledgeService
	chat      *service.ChatService
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(context.Background(), conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return conn, nil
}

func buildApp(cfg *config.Config) (*app, error) {
	conn, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:       cfg,
		db:        conn,
		sources:   repo.NewSourceRepo(conn),
		chunks:    repo.NewChunkRepo(conn),
		cacheRepo: repo.NewEmbeddingCacheRepo(conn),
	}

	generator, err := ai.BuildGenerator(cfg.AI.Generators)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	var caches []ai.EmbedderWrapper
	if cfg.EmbeddingCache.DBEnabled {
		caches = append(caches, func(e ai.IEmbedder) ai.IEmbedder {
			return embedcache.WrapDB(e, a.cacheRepo)
		})
	}
	caches = append(caches, func(e ai.IEmbedder) ai.IEmbedder {
		return embedcache.WrapLRU(e, cfg.EmbeddingCache.LRUSize, time.Duration(cfg.EmbeddingCache.LRUTTLMinutes)*time.Minute)
	})
	embedder, err := ai.BuildEmbedder(cfg.AI.Embedders, caches...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	manager := ai.NewManager(generator, embedder, ai.ManagerConfig{
		Timeout:       cfg.AI.Timeout,
		MaxInputChars: cfg.AI.MaxInputChars,
	})

	files, err := filestore.New(cfg.FileStore)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("init file store: %w", err)
	}
	var summarizer ai.IGenerator
	if cfg.AI.SummarizeCode {
		summarizer = manager
	}
	a.knowledge = service.NewKnowledgeService(service.KnowledgeServiceDeps{
		Chunks:         a.chunks,
		Sources:        a.sources,
		Files:          files,
		Loader:         ingest.NewLoader(files, cfg.Ingest),
		Chunker:        ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap, summarizer),
		Embedder:       manager,
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
	})
	a.chat = service.NewChatService(a.knowledge, manager, service.ChatConfig{
		TopK:            cfg.Retrieval.TopK,
		HistoryMessages: cfg.Retrieval.HistoryMessages,
		MaxSnippetChars: cfg.Retrieval.MaxSnippetChars,
		MaxInputChars:   manager.MaxInputChars(),
	})
	logutil.GetLogger(context.Background()).Info("components ready",
		zap.String("embedding_model", manager.EmbeddingModelName()),
		zap.String("file_store", files.Type()),
	)
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}
