// Command lectura-ai runs the course material ingestion and QA service.
//
// Usage:
//
//	lectura-ai serve --config config.yaml
//	lectura-ai serve
//
// Without a config file, everything is read from the environment.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/redis/go-redis/v9"

	"github.com/lectura-app/ai-service/pkg/agent"
	"github.com/lectura-app/ai-service/pkg/config"
	"github.com/lectura-app/ai-service/pkg/databases"
	"github.com/lectura-app/ai-service/pkg/embedders"
	"github.com/lectura-app/ai-service/pkg/ingest"
	"github.com/lectura-app/ai-service/pkg/llms"
	"github.com/lectura-app/ai-service/pkg/logger"
	"github.com/lectura-app/ai-service/pkg/retrieval"
	"github.com/lectura-app/ai-service/pkg/server"
	"github.com/lectura-app/ai-service/pkg/state"
	"github.com/lectura-app/ai-service/pkg/storage"
	"github.com/lectura-app/ai-service/pkg/websearch"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP service."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:""`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (compact, text, json)." default:""`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("lectura-ai version %s\n", version)
	return nil
}

type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Port > 0 {
		cfg.Server.Port = c.Port
	}

	// CLI log flags win over config.
	levelStr := cfg.Log.Level
	if cli.LogLevel != "" {
		levelStr = cli.LogLevel
	}
	format := cfg.Log.Format
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return err
	}
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return err
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, format)
	log := logger.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mongoClient, err := databases.NewMongoClient(ctx, &cfg.Mongo)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer func() {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		_ = mongoClient.Disconnect(disconnectCtx)
	}()

	chunkStore := databases.NewChunkStore(mongoClient, &cfg.Mongo, log)
	conversationStore := databases.NewMongoConversationStore(mongoClient, &cfg.Mongo)

	cache, err := newRedisClient(&cfg.Cache)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}
	stateManager := state.NewManager(conversationStore, cache,
		time.Duration(cfg.Cache.TTLHours)*time.Hour, log)

	objects, err := storage.NewS3StoreFromConfig(ctx, &cfg.Storage)
	if err != nil {
		return err
	}

	embedder, err := embedders.NewVoyageEmbedderFromConfig(&cfg.Embedding)
	if err != nil {
		return err
	}
	defer embedder.Close()

	llm, err := llms.NewOpenAIProviderFromConfig(&cfg.LLM)
	if err != nil {
		return err
	}
	defer llm.Close()

	var webClient *websearch.TavilyClient
	if cfg.WebSearch.APIKey != "" {
		webClient, err = websearch.NewTavilyClientFromConfig(&cfg.WebSearch)
		if err != nil {
			return err
		}
	} else {
		log.Warn("web search API key not set, WEB search types will fail at query time")
	}

	retriever := retrieval.NewRetriever(embedder, chunkStore, log)
	pipeline := ingest.NewPipeline(objects, embedder, chunkStore, log)
	queryAgent := agent.New(agent.Dependencies{
		LLM:           llm,
		Retriever:     retriever,
		WebSearch:     webClient,
		State:         stateManager,
		Objects:       objects,
		WebMaxResults: cfg.WebSearch.MaxResults,
	}, log)

	srv := server.NewServer(&cfg.Server, server.Dependencies{
		Ingestor:      pipeline,
		Agent:         queryAgent,
		Deleter:       chunkStore,
		Conversations: stateManager,
	}, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newRedisClient(cfg *config.CacheConfig) (*redis.Client, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	if cfg.Host == "" {
		return nil, nil
	}
	return redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DB:   cfg.DB,
	}), nil
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("lectura-ai"),
		kong.Description("Course material ingestion and retrieval-augmented QA service."),
		kong.UsageOnError(),
	)

	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
