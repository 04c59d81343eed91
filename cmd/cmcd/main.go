// Package main implements the cmcd CLI, an in-process driver over the
// Context Memory Core service. Unlike ctxd (which talks to a running
// contextd HTTP server), cmcd links the service directly: there is no
// server process and no network round-trip, since an HTTP surface for the
// memory core is out of scope for this project.
//
// Each invocation constructs a fresh Memory Store, so item/artifact state
// does not persist across separate cmcd invocations — only the vector
// index survives, when --vector-db points at a file. cmcd is meant for
// local exploration of the pipeline (see the "demo" subcommand, which
// ingests, ranks, and builds a working set in one process) and for
// embedding as a reference for how to wire internal/cmc/service into a
// long-running process of your own.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/memforge/cmc/internal/cmc/config"
	"github.com/memforge/cmc/internal/cmc/embed"
	"github.com/memforge/cmc/internal/cmc/service"
	"github.com/memforge/cmc/internal/cmc/store"
	"github.com/memforge/cmc/internal/cmc/vectorindex"
)

var (
	version = "dev"

	flagConfigPath  string
	flagVectorDB    string
	flagWorkspaceID string
	flagVerbose     bool

	flagEmbeddingBaseURL string
	flagEmbeddingModel   string
	flagEmbeddingAPIKey  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "cmcd",
	Short:   "In-process driver for the Context Memory Core",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to a YAML config file (spec §6.2 options)")
	rootCmd.PersistentFlags().StringVar(&flagVectorDB, "vector-db", "", "path to a persistent chromem-go database (empty: in-memory, lost on exit)")
	rootCmd.PersistentFlags().StringVar(&flagWorkspaceID, "workspace", "default", "workspace id")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable development-mode structured logging")
	rootCmd.PersistentFlags().StringVar(&flagEmbeddingBaseURL, "embedding-base-url", "", "OpenAI-compatible embedding endpoint (empty: items are persisted embedding_pending)")
	rootCmd.PersistentFlags().StringVar(&flagEmbeddingModel, "embedding-model", "text-embedding-3-small", "embedding model name")
	rootCmd.PersistentFlags().StringVar(&flagEmbeddingAPIKey, "embedding-api-key", "", "embedding provider API key (falls back to $OPENAI_API_KEY)")

	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(workingSetCmd)
	rootCmd.AddCommand(expandCmd)
	rootCmd.AddCommand(feedbackCmd)
}

func newLogger() (*zap.Logger, error) {
	if flagVerbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig() (config.Config, error) {
	return config.Load(flagConfigPath)
}

// buildService wires a fresh Memory Store, the Vector Index (persistent
// when --vector-db is set), and — when --embedding-base-url is given — a
// langchaingo-backed Embedder Gateway, into a Service.
func buildService() (*service.Service, func(), error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("cmcd: logger: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("cmcd: config: %w", err)
	}

	idx, err := vectorindex.NewChromemIndex(flagVectorDB, true)
	if err != nil {
		return nil, nil, fmt.Errorf("cmcd: vector index: %w", err)
	}
	idx.SetTopKCap(cfg.VectorIndexTopKCap)

	var gateway *embed.Gateway
	if flagEmbeddingBaseURL != "" {
		apiKey := flagEmbeddingAPIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		provider, err := embed.NewLangchainProvider(embed.LangchainConfig{
			BaseURL:   flagEmbeddingBaseURL,
			Model:     flagEmbeddingModel,
			APIKey:    apiKey,
			Dimension: cfg.EmbeddingDim,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("cmcd: embedding provider: %w", err)
		}
		gateway = embed.New(provider, embed.DefaultConfig())
		cfg.EmbeddingModelID = provider.ModelID()
	}

	st := store.New()
	svc, err := service.New(cfg, st, idx, gateway, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("cmcd: service: %w", err)
	}

	cleanup := func() {
		_ = svc.Close()
		_ = logger.Sync()
	}
	return svc, cleanup, nil
}
