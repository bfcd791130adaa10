package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pdfchat/internal/app"
	"pdfchat/internal/config"
	"pdfchat/internal/history"
	"pdfchat/internal/index"
	"pdfchat/internal/ingest"
	"pdfchat/internal/retriever"
	"pdfchat/internal/server"
	"pdfchat/internal/util"
	"pdfchat/pkg/ai"
	"pdfchat/pkg/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pdfchat",
	Short: "PDF RAG chatbot service",
	Long: `pdfchat answers natural-language questions grounded in a directory
of PDF documents: it ingests the corpus into a vector index, retrieves the
most similar chunks per question and generates answers with a local or
hosted language model.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Ingest the corpus and serve the HTTP API",
	RunE:  runServe,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Rebuild the vector index from a corpus directory and exit",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIngest,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	util.InitLogger(cfg.LogLevel)
	return cfg, nil
}

// components is the wired dependency graph shared by serve and ingest.
type components struct {
	store    index.Store
	pipeline *ingest.Pipeline
	bot      *app.Chatbot
	history  history.Store
}

func buildComponents(cfg config.Config) (*components, error) {
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	retryBase := time.Duration(cfg.RetryBaseDelaySeconds) * time.Second

	embedder, generator, err := buildProviders(cfg, timeout)
	if err != nil {
		return nil, err
	}
	gateway := ai.NewGateway(generator, ai.DefaultQueryAttempts, retryBase, timeout)
	ingestEmbedder := ai.NewRetryingEmbedder(embedder, ai.DefaultIngestAttempts, retryBase, timeout)
	queryEmbedder := ai.NewRetryingEmbedder(embedder, ai.DefaultQueryAttempts, retryBase, timeout)

	var store index.Store
	var hist history.Store
	if cfg.DatabaseURL != "" {
		pg, err := index.NewPgvectorStore(cfg.DatabaseURL, cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}
		store = pg
		gs, err := history.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
		hist = gs
	} else {
		slog.Warn("no databaseURL configured, using in-memory stores")
		store = index.NewMemoryStore()
		hist = history.NewMemoryStore()
	}

	pipeline, err := ingest.NewPipeline(store, ingestEmbedder, ingest.Config{
		CorpusName:   cfg.CorpusName,
		Extensions:   []string{".pdf", ".epub", ".txt"},
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		EmbeddingDim: cfg.EmbeddingDim,
	})
	if err != nil {
		return nil, err
	}
	retr, err := retriever.New(store, queryEmbedder, cfg.CorpusName, cfg.ChatTopK)
	if err != nil {
		return nil, err
	}
	bot, err := app.New(pipeline, retr, gateway, app.Config{
		QueryTopK:       cfg.QueryTopK,
		ChatTopK:        cfg.ChatTopK,
		HistoryLimit:    cfg.HistoryLimit,
		MinAnswerLength: cfg.MinAnswerLength,
	})
	if err != nil {
		return nil, err
	}
	return &components{store: store, pipeline: pipeline, bot: bot, history: hist}, nil
}

func buildProviders(cfg config.Config, timeout time.Duration) (ai.Embedder, ai.TextGenerator, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		embedder, err := ai.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel, timeout)
		if err != nil {
			return nil, nil, err
		}
		generator, err := ai.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.GenerationModel, timeout)
		if err != nil {
			return nil, nil, err
		}
		return embedder, generator, nil
	default:
		client := ai.NewOllamaClient(cfg.OllamaBaseURL, timeout)
		embedder := ai.NewOllamaEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDim)
		generator := ai.NewOllamaGenerator(client, cfg.GenerationModel)
		return embedder, generator, nil
	}
}

// mirrorCorpus pulls corpus files from the configured bucket before a
// rebuild. No endpoint means no mirror step.
func mirrorCorpus(ctx context.Context, cfg config.Config) error {
	if cfg.Minio.Endpoint == "" {
		return nil
	}
	store, err := storage.NewMinioStore(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
	if err != nil {
		return fmt.Errorf("connect object store: %w", err)
	}
	return ingest.MirrorCorpus(ctx, store, cfg.CorpusDir, []string{".pdf", ".epub", ".txt"})
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	comps, err := buildComponents(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mirrorCorpus(ctx, cfg); err != nil {
		slog.Error("corpus mirror failed, serving local directory", "error", err)
	}
	// Initialization failure leaves the service up but not ready, so the
	// operator can fix the backend and POST /api/init.
	if err := comps.bot.Initialize(ctx, cfg.CorpusDir); err != nil {
		slog.Error("chatbot initialization failed, serving degraded", "error", err)
	}

	var watcher *ingest.Watcher
	if cfg.WatchCorpus {
		watcher, err = ingest.NewWatcher(cfg.CorpusDir, 2*time.Second, func(ctx context.Context) {
			if err := comps.bot.Initialize(ctx, cfg.CorpusDir); err != nil {
				slog.Error("corpus rebuild failed", "error", err)
			}
		})
		if err != nil {
			slog.Error("corpus watcher unavailable", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	srv := server.New(server.Config{
		Bot:       comps.bot,
		History:   comps.history,
		CorpusDir: cfg.CorpusDir,
		StaticDir: cfg.StaticDir,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "port", cfg.Port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := cfg.CorpusDir
	if len(args) > 0 {
		dir = args[0]
	}
	comps, err := buildComponents(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mirrorCorpus(ctx, cfg); err != nil {
		return err
	}
	coll, err := comps.pipeline.Rebuild(ctx, dir)
	if errors.Is(err, ingest.ErrNoDocuments) {
		return fmt.Errorf("nothing to ingest in %s: %w", dir, err)
	}
	if err != nil {
		return err
	}
	count, err := comps.store.Count(ctx, coll.ID)
	if err != nil {
		return err
	}
	cmd.Printf("Ingested %d chunks into collection %s\n", count, coll.ID)
	return nil
}
