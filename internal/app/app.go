// Package app wires the memory core, storage and generation for the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/easeaico/petpal/internal/companion"
	"github.com/easeaico/petpal/internal/config"
	"github.com/easeaico/petpal/internal/indexstore"
	"github.com/easeaico/petpal/internal/memory"
	"github.com/easeaico/petpal/internal/models"
	"github.com/easeaico/petpal/internal/profile"
	"github.com/easeaico/petpal/internal/prompt"
	"github.com/easeaico/petpal/internal/storage"
)

// App holds the long-lived services of a process.
type App struct {
	Config    config.Config
	Store     *storage.Store
	Indexes   *indexstore.Manager
	Extractor *profile.Extractor
	Memory    *memory.Service
	ShortTerm *memory.ShortTermMemory
	Chat      *companion.Chat
}

// New connects to the database and builds every service. Indexes and profile
// facts are not loaded; call Warm for that.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	embedder, err := memory.NewEmbedder(ctx, memory.EmbedderConfigFrom(cfg))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	llm, err := models.NewLLM(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create %s model: %w", cfg.LLMProvider, err)
	}

	indexes := indexstore.NewManager(indexstore.Options{
		Root:        indexRoot(cfg),
		Model:       embedder.ModelID(),
		Dimension:   embedder.Dimensions(),
		Concurrency: cfg.LoadConcurrency,
		Logger:      logger,
	})
	extractor := profile.NewExtractor(profile.NewTable(), store.Facts, logger)
	svc := memory.NewService(embedder, indexes, store.Turns, extractor, memory.RetrieverOptions{
		TopK:          cfg.TopK,
		MinSimilarity: cfg.MinSimilarity,
		MaxSimilarity: cfg.MaxSimilarity,
		BandFilter:    cfg.BandFilter,
	}, logger)
	shortTerm := memory.NewShortTermMemory(store.Turns, memory.ShortTermConfig{
		BufferSize:   cfg.HistoryLimit,
		SummaryChars: cfg.SummaryChars,
		TTL:          cfg.MemoryTTL,
	}, logger)

	chat := companion.NewChat(companion.Options{
		Characters: store.Characters,
		Turns:      store.Turns,
		Memory:     svc,
		ShortTerm:  shortTerm,
		Extractor:  extractor,
		Prompts:    prompt.NewBuilder(cfg.HistoryLimit),
		Generator:  models.NewGenerator(llm),
		Logger:     logger,
	})

	return &App{
		Config:    cfg,
		Store:     store,
		Indexes:   indexes,
		Extractor: extractor,
		Memory:    svc,
		ShortTerm: shortTerm,
		Chat:      chat,
	}, nil
}

// Warm loads every index file and the profile snapshot.
func (a *App) Warm(ctx context.Context) error {
	n, err := a.Indexes.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load indexes: %w", err)
	}
	if err := a.Extractor.Warm(ctx); err != nil {
		return fmt.Errorf("failed to load profile facts: %w", err)
	}
	slog.Info("memory warmed", "indexes", n, "root", a.Indexes.Root())
	return nil
}

// Close releases the database connection.
func (a *App) Close() {
	a.Store.Close()
}

func indexRoot(cfg config.Config) string {
	if filepath.IsAbs(cfg.IndexDir) {
		return cfg.IndexDir
	}
	return filepath.Join(cfg.WorkDir, cfg.IndexDir)
}
