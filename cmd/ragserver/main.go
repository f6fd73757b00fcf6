// Command ragserver is the entrypoint for the retrieval-augmented knowledge
// server: it wires the fetcher, chunker, enricher, embedder, vector store,
// graph store, and retrieval engine into the twelve tools described in
// section 6, and serves them over stdio or streamable HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	mcp "github.com/metoro-io/mcp-golang"
	"github.com/metoro-io/mcp-golang/transport/stdio"
	"github.com/sirupsen/logrus"

	"ragserver/internal/classify"
	"ragserver/internal/concurrency"
	"ragserver/internal/config"
	"ragserver/internal/dispatch"
	"ragserver/internal/embed"
	"ragserver/internal/enrich"
	"ragserver/internal/fetch"
	"ragserver/internal/graph"
	"ragserver/internal/ingest"
	_ "ragserver/internal/logging"
	"ragserver/internal/obs"
	"ragserver/internal/retrieve"
	"ragserver/internal/store"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := buildDependencies(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to build dependencies")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	errChan := make(chan error, 1)

	switch cfg.Transport {
	case "http":
		go func() {
			if err := serveHTTP(ctx, cfg, d); err != nil {
				errChan <- fmt.Errorf("http server error: %w", err)
			}
		}()
	default:
		server := mcp.NewServer(stdio.NewStdioServerTransport())
		registerTools(server, d)
		go func() {
			if err := server.Serve(); err != nil {
				errChan <- fmt.Errorf("stdio server error: %w", err)
			}
		}()
	}

	select {
	case err := <-errChan:
		logrus.WithError(err).Fatal("server error")
	case sig := <-sigChan:
		logrus.WithField("signal", sig).Info("received signal, shutting down")
	}

	cancel()
	logrus.Info("ragserver stopped")
}

// deps holds every constructed component handlers dispatch against.
type deps struct {
	ctx        context.Context
	cfg        *config.Config
	orch       *ingest.Orchestrator
	retriever  *retrieve.Engine
	graph      *graph.Adapter
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	smFetcher  classify.Fetcher
	pageFetch  *fetch.Pool
}

func buildDependencies(ctx context.Context, cfg *config.Config) (*deps, error) {
	embedder := buildEmbedder(cfg)
	llm := buildLLM(cfg)

	vectorStore, err := buildVectorStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build vector store: %w", err)
	}

	graphAdapter, err := buildGraph(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	var reranker retrieve.Reranker
	if cfg.Reranker.Host != "" {
		reranker = retrieve.NewHTTPReranker(cfg.Reranker.Host, cfg.Reranker.Model)
	}

	resultCache, err := buildResultCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("build result cache: %w", err)
	}

	var validator retrieve.GraphValidator
	if cfg.Flags.UseKnowledgeGraph && graphAdapter != nil {
		validator = graphAdapter
	}

	retriever := retrieve.New(embedder, vectorStore, validator, reranker, resultCache,
		cfg.Flags.UseHybridSearch, cfg.Flags.UseReranking, cfg.Flags.UseKnowledgeGraph)

	fetcher := fetch.NewPool(fetch.NewChromeRenderer(), 20*time.Second, 10*1024*1024)

	var graphIngester ingest.GraphIngester
	if graphAdapter != nil {
		graphIngester = graphAdapter
	}

	orch := ingest.New(fetcher, llm, embedder, vectorStore, graphIngester, ingest.DuckDuckGoSearch{}, retriever, ingest.Options{
		ChunkSize:          cfg.ChunkSize,
		MinCodeBlockChars:  cfg.CodeBlockMinChars,
		EnrichmentEnabled:  cfg.Flags.UseContextualEmbeddings,
		EnrichWorkers:      cfg.EnrichmentWorkers,
		SummarizeWorkers:   cfg.EnrichmentWorkers,
		MaxConcurrentFetch: cfg.MaxConcurrentFetch,
		GraphIngestEnabled: cfg.Flags.UseKnowledgeGraph,
		DefaultMatchCount:  5,
	})

	d := &deps{
		ctx:        ctx,
		cfg:        cfg,
		orch:       orch,
		retriever:  retriever,
		graph:      graphAdapter,
		store:      vectorStore,
		smFetcher:  classify.NewHTTPFetcher(15 * time.Second),
		pageFetch:  fetcher,
		dispatcher: dispatch.New(time.Duration(cfg.DefaultOuterTimeout)*time.Second, nil),
	}
	if cfg.OTel.Enabled {
		d.dispatcher.SetMetrics(obs.NewOtelMetrics())
	}
	return d, nil
}

// buildResultCache prefers a distributed Redis tier when cfg.Cache.RedisDSN
// is set, falling back to the in-process TTL+LRU cache otherwise.
func buildResultCache(cfg *config.Config) (retrieve.ResultCache, error) {
	if cfg.Cache.RedisDSN != "" {
		redisCache, err := concurrency.NewRedisCache(cfg.Cache.RedisDSN, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		return redisCache, nil
	}
	local := concurrency.NewCache(cfg.Cache.Capacity, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	return retrieve.LocalCache{Cache: local}, nil
}

func buildEmbedder(cfg *config.Config) *embed.Batcher {
	provider := embed.NewHTTPProvider(cfg.Embedding.Host, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	return embed.NewBatcher(provider, cfg.EmbeddingBatchSize)
}

func buildLLM(cfg *config.Config) enrich.LLM {
	if cfg.Completions.Host == "" && cfg.Completions.APIKey == "" {
		return nil
	}
	if cfg.Completions.Provider == "anthropic" {
		return enrich.NewAnthropicLLM(cfg.Completions.Host, cfg.Completions.APIKey, cfg.Completions.Model)
	}
	return enrich.NewOpenAILLM(cfg.Completions.Host, cfg.Completions.APIKey, cfg.Completions.Model, cfg.Completions.Temperature)
}

func buildVectorStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	breakerFor := func(backend store.Backend, collection string) store.Backend {
		return store.NewBreakerBackend(backend, collection, cfg.Breaker.FailureThreshold, time.Duration(cfg.Breaker.CoolOffSeconds)*time.Second)
	}

	if cfg.Vector.Backend == config.VectorBackendNative {
		docs, err := store.NewQdrantBackend(cfg.Vector.NativeDSN, cfg.Vector.DocumentsColl, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("qdrant documents: %w", err)
		}
		code, err := store.NewQdrantBackend(cfg.Vector.NativeDSN, cfg.Vector.CodeExamplesColl, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("qdrant code examples: %w", err)
		}
		sources, err := store.NewQdrantBackend(cfg.Vector.NativeDSN, cfg.Vector.SourcesColl, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("qdrant sources: %w", err)
		}
		return store.New(breakerFor(docs, cfg.Vector.DocumentsColl), breakerFor(code, cfg.Vector.CodeExamplesColl), breakerFor(sources, cfg.Vector.SourcesColl)), nil
	}

	pool, err := pgxpool.New(ctx, cfg.Vector.ManagedDSN)
	if err != nil {
		return nil, fmt.Errorf("connect managed vector store: %w", err)
	}
	docs, err := store.NewPostgresBackend(ctx, pool, cfg.Vector.DocumentsColl, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("postgres documents: %w", err)
	}
	code, err := store.NewPostgresBackend(ctx, pool, cfg.Vector.CodeExamplesColl, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("postgres code examples: %w", err)
	}
	sources, err := store.NewPostgresBackend(ctx, pool, cfg.Vector.SourcesColl, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("postgres sources: %w", err)
	}
	return store.New(breakerFor(docs, cfg.Vector.DocumentsColl), breakerFor(code, cfg.Vector.CodeExamplesColl), breakerFor(sources, cfg.Vector.SourcesColl)), nil
}

func buildGraph(ctx context.Context, cfg *config.Config) (*graph.Adapter, error) {
	if !cfg.Flags.UseKnowledgeGraph {
		return nil, nil
	}
	var backend graph.Backend
	if cfg.Graph.DSN == "" {
		backend = graph.NewMemoryBackend()
	} else {
		pool, err := pgxpool.New(ctx, cfg.Graph.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect graph store: %w", err)
		}
		pgBackend, err := graph.NewPostgresBackend(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("init graph store: %w", err)
		}
		backend = pgBackend
	}
	return graph.New(backend, graph.GoGitCloner{}, cfg.Graph.WorkspaceDir, cfg.Graph.CommitHistoryLimit), nil
}
