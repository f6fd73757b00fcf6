// Package store implements the vector store adapter (C7): three logical
// collections — document chunks, code examples, and sources — backed by a
// pluggable similarity-search engine.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DocumentChunk is one persisted chunk of a fetched document or code example.
type DocumentChunk struct {
	URL         string
	ChunkNumber int
	Content     string
	Metadata    map[string]string
	SourceID    string
	Embedding   []float32
}

// DocumentResult is a ranked hit returned from a search operation.
type DocumentResult struct {
	ID          string
	URL         string
	ChunkNumber int
	Content     string
	Metadata    map[string]string
	SourceID    string
	Similarity  float64
}

// Source is the per-origin rollup record.
type Source struct {
	SourceID  string
	Summary   string
	WordCount int
}

// Backend is the similarity-search engine a collection is mounted on. It is
// deliberately narrow so qdrant, postgres/pgvector, and an in-memory fake can
// all satisfy it.
type Backend interface {
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Hit, error)
	// Scroll returns every point matching filter (QdrantBackend: at most
	// the first 1000), unordered, for the keyword-search and url-scoped
	// list/delete paths that have no vector to rank against.
	Scroll(ctx context.Context, filter map[string]string) ([]Hit, error)
}

// Hit is a single backend lookup result; Score is backend-native (not yet
// normalized to [0,1]).
type Hit struct {
	ID       string
	Score    float64
	Payload  map[string]string
}

// Store composes the three collections over their backends.
type Store struct {
	documents     Backend
	codeExamples  Backend
	sources       Backend
}

// New builds a Store over three already-initialized backends.
func New(documents, codeExamples, sources Backend) *Store {
	return &Store{documents: documents, codeExamples: codeExamples, sources: sources}
}

// ChunkID is the deterministic point id for a document chunk.
func ChunkID(url string, chunkNumber int) string {
	return stableHash(url + "_" + strconv.Itoa(chunkNumber))
}

// CodeExampleID is the deterministic point id for a code example.
func CodeExampleID(url string, chunkNumber int) string {
	return stableHash("code_" + url + "_" + strconv.Itoa(chunkNumber))
}

// SourceRecordID is the deterministic point id for a source rollup.
func SourceRecordID(sourceID string) string {
	return stableHash(sourceID)
}

func stableHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// AddDocuments performs URL-scoped replace-all: for each distinct URL in the
// batch, every existing chunk with that URL is deleted first, then all N new
// points are upserted one Backend.Upsert call per point, walked in groups of
// 100 whose index range names a failed insert; there is no multi-point
// upsert. Delete failures are tolerated; insert failures abort the call.
func (s *Store) AddDocuments(ctx context.Context, chunks []DocumentChunk) error {
	return addChunks(ctx, s.documents, chunks, ChunkID)
}

// AddCodeExamples mirrors AddDocuments for the code-examples collection.
func (s *Store) AddCodeExamples(ctx context.Context, chunks []DocumentChunk) error {
	return addChunks(ctx, s.codeExamples, chunks, CodeExampleID)
}

func addChunks(ctx context.Context, backend Backend, chunks []DocumentChunk, idFn func(string, int) string) error {
	urls := make(map[string]bool)
	for _, c := range chunks {
		urls[c.URL] = true
	}
	for url := range urls {
		deleteByURL(ctx, backend, url)
	}

	const batchSize = 100
	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		for _, c := range chunks[i:end] {
			payload := copyPayload(c.Metadata)
			payload["url"] = c.URL
			payload["chunk_number"] = strconv.Itoa(c.ChunkNumber)
			payload["content"] = c.Content
			payload["source_id"] = c.SourceID
			if err := backend.Upsert(ctx, idFn(c.URL, c.ChunkNumber), c.Embedding, payload); err != nil {
				return fmt.Errorf("upsert batch %d-%d: %w", i, end, err)
			}
		}
	}
	return nil
}

func deleteByURL(ctx context.Context, backend Backend, url string) {
	existing, err := backend.Scroll(ctx, map[string]string{"url": url})
	if err != nil {
		return
	}
	for _, hit := range existing {
		_ = backend.Delete(ctx, hit.ID)
	}
}

// SearchDocuments runs a cosine similarity search over the document-chunk
// collection.
func (s *Store) SearchDocuments(ctx context.Context, queryEmbedding []float32, matchCount int, metadataFilter map[string]string, sourceFilter string) ([]DocumentResult, error) {
	return search(ctx, s.documents, queryEmbedding, matchCount, metadataFilter, sourceFilter)
}

// SearchCodeExamples mirrors SearchDocuments for the code-examples collection.
func (s *Store) SearchCodeExamples(ctx context.Context, queryEmbedding []float32, matchCount int, metadataFilter map[string]string, sourceFilter string) ([]DocumentResult, error) {
	return search(ctx, s.codeExamples, queryEmbedding, matchCount, metadataFilter, sourceFilter)
}

func search(ctx context.Context, backend Backend, queryEmbedding []float32, matchCount int, metadataFilter map[string]string, sourceFilter string) ([]DocumentResult, error) {
	filter := copyPayload(metadataFilter)
	if sourceFilter != "" {
		filter["source_id"] = sourceFilter
	}
	hits, err := backend.SimilaritySearch(ctx, queryEmbedding, matchCount, filter)
	if err != nil {
		return nil, err
	}
	out := make([]DocumentResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, toResult(h))
	}
	return out, nil
}

// SearchDocumentsByKeyword performs a substring match on content, scrolling
// the full collection when the backend has no native substring filter.
func (s *Store) SearchDocumentsByKeyword(ctx context.Context, keyword string, matchCount int, metadataFilter map[string]string) ([]DocumentResult, error) {
	return searchByKeyword(ctx, s.documents, keyword, matchCount, metadataFilter)
}

// SearchCodeExamplesByKeyword mirrors SearchDocumentsByKeyword for code examples.
func (s *Store) SearchCodeExamplesByKeyword(ctx context.Context, keyword string, matchCount int, metadataFilter map[string]string) ([]DocumentResult, error) {
	return searchByKeyword(ctx, s.codeExamples, keyword, matchCount, metadataFilter)
}

func searchByKeyword(ctx context.Context, backend Backend, keyword string, matchCount int, metadataFilter map[string]string) ([]DocumentResult, error) {
	hits, err := backend.Scroll(ctx, metadataFilter)
	if err != nil {
		return nil, err
	}
	out := make([]DocumentResult, 0, matchCount)
	for _, h := range hits {
		if !containsFold(h.Payload["content"], keyword) {
			continue
		}
		out = append(out, toResult(h))
		if len(out) >= matchCount {
			break
		}
	}
	return out, nil
}

// GetDocumentsByURL returns every chunk for url, ascending by chunk number.
func (s *Store) GetDocumentsByURL(ctx context.Context, url string) ([]DocumentResult, error) {
	return getByURL(ctx, s.documents, url)
}

// GetCodeExamplesByURL mirrors GetDocumentsByURL for code examples.
func (s *Store) GetCodeExamplesByURL(ctx context.Context, url string) ([]DocumentResult, error) {
	return getByURL(ctx, s.codeExamples, url)
}

func getByURL(ctx context.Context, backend Backend, url string) ([]DocumentResult, error) {
	hits, err := backend.Scroll(ctx, map[string]string{"url": url})
	if err != nil {
		return nil, err
	}
	out := make([]DocumentResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, toResult(h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkNumber < out[j].ChunkNumber })
	return out, nil
}

// DeleteDocumentsByURL deletes every chunk for url.
func (s *Store) DeleteDocumentsByURL(ctx context.Context, url string) error {
	deleteByURL(ctx, s.documents, url)
	return nil
}

// DeleteCodeExamplesByURL mirrors DeleteDocumentsByURL for code examples.
func (s *Store) DeleteCodeExamplesByURL(ctx context.Context, url string) error {
	deleteByURL(ctx, s.codeExamples, url)
	return nil
}

// UpdateSourceInfo upserts a source rollup; on re-ingest both fields are
// replaced outright (word_count is not additive here — callers accumulate
// the delta before calling this).
func (s *Store) UpdateSourceInfo(ctx context.Context, sourceID, summary string, wordCount int) error {
	payload := map[string]string{
		"source_id":  sourceID,
		"summary":    summary,
		"word_count": strconv.Itoa(wordCount),
	}
	return s.sources.Upsert(ctx, SourceRecordID(sourceID), nil, payload)
}

// GetSources returns every known source.
func (s *Store) GetSources(ctx context.Context) ([]Source, error) {
	hits, err := s.sources.Scroll(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Source, 0, len(hits))
	for _, h := range hits {
		wc, _ := strconv.Atoi(h.Payload["word_count"])
		out = append(out, Source{SourceID: h.Payload["source_id"], Summary: h.Payload["summary"], WordCount: wc})
	}
	return out, nil
}

// SearchSources runs a similarity search for queryEmbedding over the sources
// collection. UpdateSourceInfo writes source records with no vector, so no
// summary embedding takes part in the ranking.
func (s *Store) SearchSources(ctx context.Context, queryEmbedding []float32, matchCount int) ([]Source, error) {
	hits, err := s.sources.SimilaritySearch(ctx, queryEmbedding, matchCount, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Source, 0, len(hits))
	for _, h := range hits {
		wc, _ := strconv.Atoi(h.Payload["word_count"])
		out = append(out, Source{SourceID: h.Payload["source_id"], Summary: h.Payload["summary"], WordCount: wc})
	}
	return out, nil
}

func toResult(h Hit) DocumentResult {
	chunkNum, _ := strconv.Atoi(h.Payload["chunk_number"])
	return DocumentResult{
		ID:          h.ID,
		URL:         h.Payload["url"],
		ChunkNumber: chunkNum,
		Content:     h.Payload["content"],
		Metadata:    h.Payload,
		SourceID:    h.Payload["source_id"],
		Similarity:  normalizeSimilarity(h.Score),
	}
}

// normalizeSimilarity maps a raw cosine score (range [-1,1], as returned by
// both qdrant and pgvector cosine backends) onto [0,1].
func normalizeSimilarity(raw float64) float64 {
	v := (raw + 1) / 2
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func copyPayload(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
