// Package ingest implements the ingestion orchestrator (C9): it composes the
// fetcher, chunker, code extractor, enricher, embedder, vector store, and
// graph adapter into five externally invocable entry points, each sharing
// the same per-URL persistence pipeline.
package ingest

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"ragserver/internal/chunk"
	"ragserver/internal/classify"
	"ragserver/internal/codeextract"
	"ragserver/internal/concurrency"
	"ragserver/internal/crawlplan"
	"ragserver/internal/enrich"
	"ragserver/internal/fetch"
	"ragserver/internal/retrieve"
	"ragserver/internal/store"
)

// Fetcher is the subset of *fetch.Pool the orchestrator needs.
type Fetcher interface {
	FetchBatch(ctx context.Context, urls []string, maxConcurrent int) []fetch.Record
}

// Embedder converts text into vectors; satisfied by *embed.Batcher.
type Embedder interface {
	Embed(ctx context.Context, texts []string) [][]float32
}

// DocumentStore is the subset of *store.Store persistence needs.
type DocumentStore interface {
	AddDocuments(ctx context.Context, chunks []store.DocumentChunk) error
	AddCodeExamples(ctx context.Context, chunks []store.DocumentChunk) error
	UpdateSourceInfo(ctx context.Context, sourceID, summary string, wordCount int) error
}

// GraphIngester is the subset of *graph.Adapter the orchestrator needs.
// branch empty analyzes the default branch.
type GraphIngester interface {
	IngestRepository(ctx context.Context, cloneURL, branch string) error
}

// SearchProvider is the external meta-search front-end contract (section 6).
type SearchProvider interface {
	Search(ctx context.Context, query string, numResults int) ([]string, error)
}

// Retriever is the subset of *retrieve.Engine the search entry point hands
// off to once pages are scraped.
type Retriever interface {
	RAGQuery(ctx context.Context, query, sourceFilter string, matchCount int) ([]retrieve.Result, error)
}

// ErrGraphDisabled is returned by the repository entry points when graph
// ingestion is turned off in Options.
var ErrGraphDisabled = errors.New("graph ingestion is disabled")

// Options configures per-URL pipeline behavior.
type Options struct {
	ChunkSize           int
	MinCodeBlockChars   int
	EnrichmentEnabled   bool
	EnrichWorkers       int
	SummarizeWorkers    int
	MaxConcurrentFetch  int
	GraphIngestEnabled  bool
	DefaultMatchCount   int
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 5000
	}
	if o.MinCodeBlockChars <= 0 {
		o.MinCodeBlockChars = 250
	}
	if o.EnrichWorkers <= 0 {
		o.EnrichWorkers = 5
	}
	if o.SummarizeWorkers <= 0 {
		o.SummarizeWorkers = 5
	}
	if o.MaxConcurrentFetch <= 0 {
		o.MaxConcurrentFetch = 10
	}
	if o.DefaultMatchCount <= 0 {
		o.DefaultMatchCount = 5
	}
	return o
}

// Orchestrator is the C9 ingestion orchestrator.
type Orchestrator struct {
	fetcher   Fetcher
	llm       enrich.LLM
	embedder  Embedder
	store     DocumentStore
	graph     GraphIngester
	search    SearchProvider
	retriever Retriever
	opts      Options

	wordCountMu sync.Mutex
	wordCounts  map[string]int
}

// New builds an Orchestrator. graph, search, and retriever may be nil when
// those features are not wired; llm may be nil to disable enrichment and
// code-summary generation.
func New(fetcher Fetcher, llm enrich.LLM, embedder Embedder, docStore DocumentStore, graph GraphIngester, search SearchProvider, retriever Retriever, opts Options) *Orchestrator {
	return &Orchestrator{
		fetcher:    fetcher,
		llm:        llm,
		embedder:   embedder,
		store:      docStore,
		graph:      graph,
		search:     search,
		retriever:  retriever,
		opts:       opts.withDefaults(),
		wordCounts: make(map[string]int),
	}
}

// URLOutcome is the per-URL result of the persistence pipeline.
type URLOutcome struct {
	URL                 string
	OK                   bool
	Skipped              bool
	ErrKind              string
	Err                  string
	ChunksStored         int
	CodeExamplesStored   int
	Markdown             string
}

// Envelope is the structured completion record every entry point returns.
type Envelope struct {
	Success             bool
	Operation           string
	URLsProcessed       int
	ChunksStored        int
	CodeExamplesStored  int
	ElapsedSeconds      float64
	Outcomes            []URLOutcome
}

// ScrapeURLs fetches, chunks, extracts code from, enriches, embeds, and
// persists every distinct URL in urls, bounded by MaxConcurrentFetch.
func (o *Orchestrator) ScrapeURLs(ctx context.Context, urls []string) Envelope {
	start := time.Now()
	dedup := dedupeStrings(urls)
	records := o.fetcher.FetchBatch(ctx, dedup, o.opts.MaxConcurrentFetch)

	results := concurrency.RunBatched(ctx, records, o.opts.MaxConcurrentFetch, func(ctx context.Context, rec fetch.Record) (URLOutcome, error) {
		return o.processRecord(ctx, rec), nil
	})

	env := Envelope{Operation: "scrape_urls", URLsProcessed: len(records), Success: true}
	for _, r := range results {
		outcome := r.Value
		env.Outcomes = append(env.Outcomes, outcome)
		env.ChunksStored += outcome.ChunksStored
		env.CodeExamplesStored += outcome.CodeExamplesStored
		if !outcome.OK {
			env.Success = false
		}
	}
	env.ElapsedSeconds = time.Since(start).Seconds()
	return env
}

// SmartCrawlURL expands url via the smart-crawl planner and delegates to
// ScrapeURLs.
func (o *Orchestrator) SmartCrawlURL(ctx context.Context, sm classify.Fetcher, pages crawlplan.PageFetcher, rawURL string, maxDepth, maxConcurrent int) Envelope {
	urls := crawlplan.Plan(ctx, sm, pages, rawURL, maxDepth, maxConcurrent)
	env := o.ScrapeURLs(ctx, urls)
	env.Operation = "smart_crawl_url"
	return env
}

// SearchEnvelope is the completion record for the search entry point.
type SearchEnvelope struct {
	Success        bool
	Operation      string
	Query          string
	ElapsedSeconds float64
	ScrapeEnvelope Envelope
	Results        []retrieve.Result
}

// Search calls the meta-search front-end for numResults URLs, scrapes them
// through ScrapeURLs, then either returns the raw per-URL markdown or hands
// the query to the retrieval engine.
func (o *Orchestrator) Search(ctx context.Context, query string, numResults int, returnRawMarkdown bool) (SearchEnvelope, error) {
	start := time.Now()
	urls, err := o.search.Search(ctx, query, numResults)
	if err != nil {
		return SearchEnvelope{Operation: "search", Query: query}, err
	}

	scrapeEnv := o.ScrapeURLs(ctx, urls)
	env := SearchEnvelope{
		Success:        scrapeEnv.Success,
		Operation:      "search",
		Query:          query,
		ScrapeEnvelope: scrapeEnv,
	}
	if !returnRawMarkdown {
		matchCount := o.opts.DefaultMatchCount
		results, err := o.retriever.RAGQuery(ctx, query, "", matchCount)
		if err != nil {
			env.Success = false
			env.ElapsedSeconds = time.Since(start).Seconds()
			return env, err
		}
		env.Results = results
	}
	env.ElapsedSeconds = time.Since(start).Seconds()
	return env, nil
}

// ParseGithubRepository clones or updates cloneURL and writes its code graph
// from the default branch, gated by Options.GraphIngestEnabled.
func (o *Orchestrator) ParseGithubRepository(ctx context.Context, cloneURL string) error {
	return o.parseRepository(ctx, cloneURL, "")
}

// ParseRepositoryBranch checks out branch before writing cloneURL's code
// graph, gated by Options.GraphIngestEnabled.
func (o *Orchestrator) ParseRepositoryBranch(ctx context.Context, cloneURL, branch string) error {
	return o.parseRepository(ctx, cloneURL, branch)
}

// UpdateParsedRepository re-parses cloneURL's code graph from scratch, on
// its default branch.
func (o *Orchestrator) UpdateParsedRepository(ctx context.Context, cloneURL string) error {
	return o.parseRepository(ctx, cloneURL, "")
}

func (o *Orchestrator) parseRepository(ctx context.Context, cloneURL, branch string) error {
	if !o.opts.GraphIngestEnabled || o.graph == nil {
		return ErrGraphDisabled
	}
	return o.graph.IngestRepository(ctx, cloneURL, branch)
}

func (o *Orchestrator) processRecord(ctx context.Context, rec fetch.Record) URLOutcome {
	outcome := URLOutcome{URL: rec.URL}
	if !rec.OK {
		outcome.ErrKind = string(rec.ErrKind)
		outcome.Err = rec.Err
		return outcome
	}
	outcome.Markdown = rec.Markdown
	if strings.TrimSpace(rec.Markdown) == "" {
		outcome.OK = true
		outcome.Skipped = true
		return outcome
	}

	pieces := chunk.Chunk(rec.Markdown, o.opts.ChunkSize)
	codeBlocks := codeextract.Extract(rec.Markdown, o.opts.MinCodeBlockChars)
	codeBlocks = codeextract.SummarizeAll(ctx, o.llm, codeBlocks, o.opts.SummarizeWorkers)

	enrichInputs := make([]enrich.Chunk, len(pieces))
	for i, p := range pieces {
		enrichInputs[i] = enrich.Chunk{Index: i, Text: p}
	}
	enriched := enrich.EnrichAll(ctx, o.llm, rec.Markdown, enrichInputs, o.opts.EnrichmentEnabled, o.opts.EnrichWorkers)

	texts := make([]string, 0, len(enriched)+len(codeBlocks))
	for _, r := range enriched {
		texts = append(texts, r.Text)
	}
	for _, cb := range codeBlocks {
		texts = append(texts, cb.Summary+"\n"+cb.Code)
	}
	embeddings := o.embedder.Embed(ctx, texts)
	docEmbeddings := embeddings[:len(enriched)]
	codeEmbeddings := embeddings[len(enriched):]

	sourceID := registrableHost(rec.URL)

	docChunks := make([]store.DocumentChunk, len(enriched))
	wordCount := 0
	for i, r := range enriched {
		sec := chunk.Section(pieces[i])
		wordCount += sec.WordCount
		docChunks[i] = store.DocumentChunk{
			URL:         rec.URL,
			ChunkNumber: i,
			Content:     r.Text,
			Metadata: map[string]string{
				"headers":    sec.Headers,
				"char_count": strconv.Itoa(sec.CharCount),
				"word_count": strconv.Itoa(sec.WordCount),
			},
			SourceID:  sourceID,
			Embedding: docEmbeddings[i],
		}
	}

	codeChunks := make([]store.DocumentChunk, len(codeBlocks))
	for i, cb := range codeBlocks {
		codeChunks[i] = store.DocumentChunk{
			URL:         rec.URL,
			ChunkNumber: i,
			Content:     cb.Code,
			Metadata: map[string]string{
				"summary":    cb.Summary,
				"language":   cb.Language,
				"line_count": strconv.Itoa(cb.LineCount),
			},
			SourceID:  sourceID,
			Embedding: codeEmbeddings[i],
		}
	}

	if err := o.store.AddDocuments(ctx, docChunks); err != nil {
		outcome.Err = err.Error()
		return outcome
	}
	if err := o.store.AddCodeExamples(ctx, codeChunks); err != nil {
		outcome.Err = err.Error()
		return outcome
	}

	total := o.accumulateWordCount(sourceID, wordCount)
	if err := o.store.UpdateSourceInfo(ctx, sourceID, "", total); err != nil {
		outcome.Err = err.Error()
		return outcome
	}

	outcome.OK = true
	outcome.ChunksStored = len(docChunks)
	outcome.CodeExamplesStored = len(codeChunks)
	return outcome
}

func (o *Orchestrator) accumulateWordCount(sourceID string, delta int) int {
	o.wordCountMu.Lock()
	defer o.wordCountMu.Unlock()
	o.wordCounts[sourceID] += delta
	return o.wordCounts[sourceID]
}

// registrableHost extracts the URL's hostname to serve as source_id. Like
// the fetcher's internal/external outlink split, this uses plain hostname
// equality rather than a public-suffix/eTLD+1 library.
func registrableHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return parsed.Hostname()
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
