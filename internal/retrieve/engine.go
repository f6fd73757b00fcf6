// Package retrieve implements the hybrid retrieval engine (C10): semantic
// search, optional keyword-fusion, optional cross-encoder reranking, and
// graph-validated code search.
package retrieve

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"ragserver/internal/concurrency"
	"ragserver/internal/graph"
	"ragserver/internal/store"
)

// Embedder converts text into vectors; satisfied by *embed.Batcher.
type Embedder interface {
	Embed(ctx context.Context, texts []string) [][]float32
}

// DocumentStore is the subset of *store.Store the engine searches against.
type DocumentStore interface {
	SearchDocuments(ctx context.Context, queryEmbedding []float32, matchCount int, metadataFilter map[string]string, sourceFilter string) ([]store.DocumentResult, error)
	SearchDocumentsByKeyword(ctx context.Context, keyword string, matchCount int, metadataFilter map[string]string) ([]store.DocumentResult, error)
	SearchCodeExamples(ctx context.Context, queryEmbedding []float32, matchCount int, metadataFilter map[string]string, sourceFilter string) ([]store.DocumentResult, error)
	SearchCodeExamplesByKeyword(ctx context.Context, keyword string, matchCount int, metadataFilter map[string]string) ([]store.DocumentResult, error)
}

// GraphValidator is the subset of *graph.Adapter code-search validation needs.
type GraphValidator interface {
	FindClass(ctx context.Context, name, repo string) ([]graph.Node, error)
	FindMethod(ctx context.Context, name, class, repo string) ([]graph.Node, error)
	FindFunction(ctx context.Context, name, repo string) ([]graph.Node, error)
	ListRepositories(ctx context.Context) ([]graph.Node, error)
}

// Result is a ranked hit, optionally carrying a rerank score.
type Result struct {
	store.DocumentResult
	RerankScore *float64
}

// CheckResult is one graph-existence check performed during validation.
type CheckResult struct {
	Name   string
	Passed bool
	Weight float64
}

// ValidationEnvelope is attached to each validated-code-search hit.
type ValidationEnvelope struct {
	IsValid        bool
	Confidence     float64
	Checks         []CheckResult
	Neo4jValidated bool
}

// ValidatedResult pairs a code-search Result with its validation envelope.
type ValidatedResult struct {
	Result
	Validation ValidationEnvelope
}

// ResultCache is the byte-string cache the engine memoizes search results
// in; satisfied by *concurrency.Cache (wrapped, see LocalCache) and
// *concurrency.RedisCache.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// LocalCache adapts *concurrency.Cache's context-free Get/Set to ResultCache.
type LocalCache struct{ *concurrency.Cache }

func (l LocalCache) Get(_ context.Context, key string) ([]byte, bool) { return l.Cache.Get(key) }
func (l LocalCache) Set(_ context.Context, key string, value []byte)  { l.Cache.Set(key, value) }

// Engine is the C10 retrieval engine.
type Engine struct {
	embedder       Embedder
	store          DocumentStore
	validator      GraphValidator
	reranker       Reranker
	cache          ResultCache
	useHybrid      bool
	useReranking   bool
	useGraphValid  bool
}

// New builds an Engine. validator/reranker/cache may be nil, matching the
// flags; a nil cache disables memoization.
func New(embedder Embedder, docStore DocumentStore, validator GraphValidator, reranker Reranker, cache ResultCache, useHybrid, useReranking, useGraphValid bool) *Engine {
	return &Engine{
		embedder:      embedder,
		store:         docStore,
		validator:     validator,
		reranker:      reranker,
		cache:         cache,
		useHybrid:     useHybrid,
		useReranking:  useReranking,
		useGraphValid: useGraphValid,
	}
}

// RAGQuery runs the full document-search pipeline: embed, semantic search,
// optional keyword fusion, optional reranking, truncate.
func (e *Engine) RAGQuery(ctx context.Context, query, sourceFilter string, matchCount int) ([]Result, error) {
	if matchCount <= 0 {
		matchCount = 5
	}
	key := cacheKey("rag_query", query, sourceFilter, matchCount)
	if cached, ok := e.fromCache(ctx, key); ok {
		return cached, nil
	}

	out, err := e.search(ctx, query, sourceFilter, matchCount, e.store.SearchDocuments, e.store.SearchDocumentsByKeyword)
	if err != nil {
		return nil, err
	}
	e.toCache(ctx, key, out)
	return out, nil
}

// SearchCodeExamples mirrors RAGQuery against the code-examples collection,
// biasing the query embedding toward code.
func (e *Engine) SearchCodeExamples(ctx context.Context, query, sourceFilter string, matchCount int) ([]Result, error) {
	if matchCount <= 0 {
		matchCount = 5
	}
	key := cacheKey("search_code_examples", query, sourceFilter, matchCount)
	if cached, ok := e.fromCache(ctx, key); ok {
		return cached, nil
	}

	biased := "Code example for " + query + "\n\nSummary: code that " + query
	out, err := e.search(ctx, biased, sourceFilter, matchCount, e.store.SearchCodeExamples, e.store.SearchCodeExamplesByKeyword)
	if err != nil {
		return nil, err
	}
	e.toCache(ctx, key, out)
	return out, nil
}

type semanticFn func(ctx context.Context, queryEmbedding []float32, matchCount int, metadataFilter map[string]string, sourceFilter string) ([]store.DocumentResult, error)
type keywordFn func(ctx context.Context, keyword string, matchCount int, metadataFilter map[string]string) ([]store.DocumentResult, error)

func (e *Engine) search(ctx context.Context, query, sourceFilter string, matchCount int, semantic semanticFn, keyword keywordFn) ([]Result, error) {
	embeddings := e.embedder.Embed(ctx, []string{query})
	semanticHits, err := semantic(ctx, embeddings[0], matchCount, nil, sourceFilter)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	merged := toResults(semanticHits)
	if e.useHybrid {
		var filter map[string]string
		if sourceFilter != "" {
			filter = map[string]string{"source_id": sourceFilter}
		}
		keywordHits, err := keyword(ctx, query, matchCount*2, filter)
		if err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
		merged = mergeHybrid(merged, toResults(keywordHits))
	}

	if e.useReranking && e.reranker != nil {
		k := matchCount * 2
		if k > len(merged) {
			k = len(merged)
		}
		merged, err = e.rerank(ctx, query, merged[:k])
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}
	}

	if len(merged) > matchCount {
		merged = merged[:matchCount]
	}
	return merged, nil
}

func toResults(hits []store.DocumentResult) []Result {
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{DocumentResult: h}
	}
	return out
}

// mergeHybrid implements the merge rule: items in both sets get +0.5
// similarity and sort first; remaining semantic items follow; remaining
// keyword items trail. Deduplicated by (url, chunk_number).
func mergeHybrid(semantic, keyword []Result) []Result {
	keywordByKey := make(map[string]Result, len(keyword))
	for _, r := range keyword {
		keywordByKey[dedupeKey(r.URL, r.ChunkNumber)] = r
	}

	var both, semanticOnly []Result
	seen := make(map[string]bool)
	for _, r := range semantic {
		k := dedupeKey(r.URL, r.ChunkNumber)
		seen[k] = true
		if _, inBoth := keywordByKey[k]; inBoth {
			r.Similarity += 0.5
			both = append(both, r)
		} else {
			semanticOnly = append(semanticOnly, r)
		}
	}

	var keywordOnly []Result
	for _, r := range keyword {
		k := dedupeKey(r.URL, r.ChunkNumber)
		if seen[k] {
			continue
		}
		seen[k] = true
		keywordOnly = append(keywordOnly, r)
	}

	out := make([]Result, 0, len(both)+len(semanticOnly)+len(keywordOnly))
	out = append(out, both...)
	out = append(out, semanticOnly...)
	out = append(out, keywordOnly...)
	return out
}

func dedupeKey(url string, chunkNumber int) string {
	return url + "_" + strconv.Itoa(chunkNumber)
}

func (e *Engine) rerank(ctx context.Context, query string, items []Result) ([]Result, error) {
	docs := make([]string, len(items))
	for i, it := range items {
		docs[i] = it.Content
	}
	scores, err := e.reranker.Rerank(ctx, query, docs)
	if err != nil {
		return nil, err
	}
	for i := range items {
		score := scores[i]
		items[i].RerankScore = &score
	}
	sort.SliceStable(items, func(i, j int) bool {
		si, sj := *items[i].RerankScore, *items[j].RerankScore
		if si != sj {
			return si > sj
		}
		return items[i].Similarity > items[j].Similarity
	})
	return items, nil
}

// ValidatedCodeSearch runs SearchCodeExamples, then checks each item's
// declared entity against the code graph, attaching a confidence envelope.
func (e *Engine) ValidatedCodeSearch(ctx context.Context, query, sourceFilter string, matchCount int) ([]ValidatedResult, error) {
	hits, err := e.SearchCodeExamples(ctx, query, sourceFilter, matchCount)
	if err != nil {
		return nil, err
	}

	out := make([]ValidatedResult, len(hits))
	for i, hit := range hits {
		out[i] = ValidatedResult{Result: hit, Validation: e.validate(ctx, hit)}
	}
	return out, nil
}

const (
	weightRepository        = 0.3
	weightClass             = 0.3
	weightMethodOrFunction  = 0.7
	validationPassThreshold = 0.6
)

func (e *Engine) validate(ctx context.Context, hit Result) ValidationEnvelope {
	if !e.useGraphValid || e.validator == nil {
		return ValidationEnvelope{Neo4jValidated: false}
	}

	repo := hit.Metadata["repo_name"]
	class := hit.Metadata["class_name"]
	entity := hit.Metadata["entity_name"]

	var checks []CheckResult
	var passedWeight, appliedWeight float64

	if repo != "" {
		repos, err := e.validator.ListRepositories(ctx)
		if errors.Is(err, graph.ErrGraphUnavailable) {
			return ValidationEnvelope{Neo4jValidated: false}
		}
		passed := err == nil && containsRepoName(repos, repo)
		checks = append(checks, CheckResult{Name: "repository_exists", Passed: passed, Weight: weightRepository})
		appliedWeight += weightRepository
		if passed {
			passedWeight += weightRepository
		}
	}
	if class != "" {
		classes, err := e.validator.FindClass(ctx, class, repo)
		if errors.Is(err, graph.ErrGraphUnavailable) {
			return ValidationEnvelope{Neo4jValidated: false}
		}
		passed := err == nil && len(classes) > 0
		checks = append(checks, CheckResult{Name: "class_exists", Passed: passed, Weight: weightClass})
		appliedWeight += weightClass
		if passed {
			passedWeight += weightClass
		}
	}
	if entity != "" {
		methods, methodErr := e.validator.FindMethod(ctx, entity, class, repo)
		if errors.Is(methodErr, graph.ErrGraphUnavailable) {
			return ValidationEnvelope{Neo4jValidated: false}
		}
		var passed bool
		if methodErr == nil && len(methods) > 0 {
			passed = true
		} else {
			funcs, funcErr := e.validator.FindFunction(ctx, entity, repo)
			if errors.Is(funcErr, graph.ErrGraphUnavailable) {
				return ValidationEnvelope{Neo4jValidated: false}
			}
			passed = funcErr == nil && len(funcs) > 0
		}
		checks = append(checks, CheckResult{Name: "method_or_function_exists", Passed: passed, Weight: weightMethodOrFunction})
		appliedWeight += weightMethodOrFunction
		if passed {
			passedWeight += weightMethodOrFunction
		}
	}

	var confidence float64
	if appliedWeight > 0 {
		confidence = passedWeight / appliedWeight
	}
	return ValidationEnvelope{
		IsValid:        confidence >= validationPassThreshold,
		Confidence:     confidence,
		Checks:         checks,
		Neo4jValidated: true,
	}
}

func containsRepoName(nodes []graph.Node, name string) bool {
	for _, n := range nodes {
		if n.Props["name"] == name {
			return true
		}
	}
	return false
}

func cacheKey(operation, query, filter string, matchCount int) string {
	sum := md5.Sum([]byte(operation + "|" + query + "|" + filter + "|" + strconv.Itoa(matchCount)))
	return hex.EncodeToString(sum[:])
}

func (e *Engine) fromCache(ctx context.Context, key string) ([]Result, bool) {
	if e.cache == nil {
		return nil, false
	}
	raw, ok := e.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var out []Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (e *Engine) toCache(ctx context.Context, key string, results []Result) {
	if e.cache == nil {
		return
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return
	}
	e.cache.Set(ctx, key, raw)
}
