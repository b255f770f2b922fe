package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbassist/internal/handler"
	"github.com/xxxsen/kbassist/internal/job"
	"github.com/xxxsen/kbassist/internal/schedule"
	"github.com/xxxsen/kbassist/internal/service"
	"github.com/xxxsen/kbassist/internal/session"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "kbassist",
		Short: "dynamic knowledge base assistant",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json (optional, .env and environment are always read)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(a)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			conn, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			logutil.GetLogger(context.Background()).Info("migrations applied")
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, migrateCmd, newIngestCmd(&configPath), newAskCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func newIngestCmd(configPath *string) *cobra.Command {
	var collection, pdfURL, filePath, website string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "load sources into a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if collection == "" {
				return fmt.Errorf("--collection is required")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			req := service.LoadRequest{PDFURL: pdfURL, WebsiteURL: website}
			if filePath != "" {
				file, err := os.Open(filePath)
				if err != nil {
					return fmt.Errorf("open file: %w", err)
				}
				defer file.Close()
				info, err := file.Stat()
				if err != nil {
					return fmt.Errorf("stat file: %w", err)
				}
				req.File = &service.UploadedFile{Name: filepath.Base(filePath), Size: info.Size(), Reader: file}
			}
			kb, err := a.knowledge.Load(cmd.Context(), collection, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, kb)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection to replace")
	cmd.Flags().StringVar(&pdfURL, "pdf-url", "", "url of a pdf document")
	cmd.Flags().StringVar(&filePath, "file", "", "local .pdf, .md or .txt file")
	cmd.Flags().StringVar(&website, "website", "", "website to crawl")
	return cmd
}

func newAskCmd(configPath *string) *cobra.Command {
	var collection, question string
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "ask one question against a loaded collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if collection == "" || question == "" {
				return fmt.Errorf("--collection and --question are required")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, _ := session.NewStore(1, time.Hour).Get(collection)
			reply, err := a.chat.Ask(cmd.Context(), sess, question)
			if err != nil {
				return err
			}
			return printJSON(cmd, reply)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection to query")
	cmd.Flags().StringVar(&question, "question", "", "question to ask")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServer(a *app) error {
	cfg := a.cfg
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	logger := logutil.GetLogger(context.Background())
	logger.Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("file_store", cfg.FileStore.Type),
	)

	sessionTTL := time.Duration(cfg.SessionTTLHours) * time.Hour
	sessions := session.NewStore(cfg.MaxSessions, sessionTTL)

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(handler.RouterDeps{
		UI:             handler.NewUIHandler(a.knowledge, a.chat, cfg.Ingest.MaxUploadBytes),
		Knowledge:      handler.NewKnowledgeHandler(a.knowledge, cfg.Ingest.MaxUploadBytes, cfg.Retrieval.TopK),
		Chat:           handler.NewChatHandler(a.chat),
		Sessions:       sessions,
		SessionSecret:  []byte(cfg.SessionSecret),
		SessionTTL:     sessionTTL,
		RateLimit:      time.Duration(cfg.RateLimitMillis) * time.Millisecond,
		CORSAllowlist:  cfg.CORSAllowlist,
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
		DB:             a.db,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(a.cacheRepo, cfg.EmbeddingCache.MaxAgeDays), cfg.Jobs.EmbeddingCacheCleanup); err != nil {
		return err
	}
	if err := scheduler.AddJob(job.NewCollectionCleanupJob(a.sources, a.chunks, sessions, sessionTTL), cfg.Jobs.CollectionCleanup); err != nil {
		return err
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("server stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
