package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return New(NewMemoryBackend(), NewMemoryBackend(), NewMemoryBackend())
}

func TestAddDocumentsReplacesAllChunksForURL(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.AddDocuments(ctx, []DocumentChunk{
		{URL: "https://a.test/p", ChunkNumber: 0, Content: "old-0", Embedding: []float32{1, 0, 0}, SourceID: "a.test"},
		{URL: "https://a.test/p", ChunkNumber: 1, Content: "old-1", Embedding: []float32{1, 0, 0}, SourceID: "a.test"},
		{URL: "https://a.test/p", ChunkNumber: 2, Content: "old-2", Embedding: []float32{1, 0, 0}, SourceID: "a.test"},
	}))

	require.NoError(t, s.AddDocuments(ctx, []DocumentChunk{
		{URL: "https://a.test/p", ChunkNumber: 0, Content: "new-0", Embedding: []float32{1, 0, 0}, SourceID: "a.test"},
	}))

	out, err := s.GetDocumentsByURL(ctx, "https://a.test/p")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "new-0", out[0].Content)
}

func TestAddDocumentsIsIdempotentByDeterministicID(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	chunk := DocumentChunk{URL: "https://a.test/p", ChunkNumber: 0, Content: "hello", Embedding: []float32{1, 0, 0}, SourceID: "a.test"}

	require.NoError(t, s.AddDocuments(ctx, []DocumentChunk{chunk}))
	require.NoError(t, s.AddDocuments(ctx, []DocumentChunk{chunk}))

	out, err := s.GetDocumentsByURL(ctx, "https://a.test/p")
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestGetDocumentsByURLOrdersByChunkNumber(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, []DocumentChunk{
		{URL: "https://a.test/p", ChunkNumber: 2, Content: "c2", Embedding: []float32{1, 0, 0}, SourceID: "a.test"},
		{URL: "https://a.test/p", ChunkNumber: 0, Content: "c0", Embedding: []float32{1, 0, 0}, SourceID: "a.test"},
		{URL: "https://a.test/p", ChunkNumber: 1, Content: "c1", Embedding: []float32{1, 0, 0}, SourceID: "a.test"},
	}))

	out, err := s.GetDocumentsByURL(ctx, "https://a.test/p")
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, []int{out[0].ChunkNumber, out[1].ChunkNumber, out[2].ChunkNumber})
}

func TestDeleteDocumentsByURLRemovesOnlyThatURL(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, []DocumentChunk{
		{URL: "https://a.test/p", ChunkNumber: 0, Content: "a", Embedding: []float32{1, 0, 0}, SourceID: "a.test"},
		{URL: "https://b.test/q", ChunkNumber: 0, Content: "b", Embedding: []float32{1, 0, 0}, SourceID: "b.test"},
	}))

	require.NoError(t, s.DeleteDocumentsByURL(ctx, "https://a.test/p"))

	out, err := s.GetDocumentsByURL(ctx, "https://a.test/p")
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = s.GetDocumentsByURL(ctx, "https://b.test/q")
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestSearchDocumentsReturnsSimilarityInUnitRange(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, []DocumentChunk{
		{URL: "https://a.test/p", ChunkNumber: 0, Content: "match", Embedding: []float32{1, 0, 0}, SourceID: "a.test"},
	}))

	out, err := s.SearchDocuments(ctx, []float32{1, 0, 0}, 5, nil, "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.GreaterOrEqual(t, out[0].Similarity, 0.0)
	require.LessOrEqual(t, out[0].Similarity, 1.0)
}

func TestSearchDocumentsBySourceFilter(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, []DocumentChunk{
		{URL: "https://a.test/p", ChunkNumber: 0, Content: "a", Embedding: []float32{1, 0, 0}, SourceID: "a.test"},
		{URL: "https://b.test/q", ChunkNumber: 0, Content: "b", Embedding: []float32{1, 0, 0}, SourceID: "b.test"},
	}))

	out, err := s.SearchDocuments(ctx, []float32{1, 0, 0}, 5, nil, "a.test")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "a.test", out[0].SourceID)
}

func TestSearchDocumentsByKeywordMatchesSubstring(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, []DocumentChunk{
		{URL: "https://a.test/p", ChunkNumber: 0, Content: "contains banana text", Embedding: []float32{1, 0, 0}, SourceID: "a.test"},
		{URL: "https://a.test/q", ChunkNumber: 0, Content: "no fruit here", Embedding: []float32{1, 0, 0}, SourceID: "a.test"},
	}))

	out, err := s.SearchDocumentsByKeyword(ctx, "banana", 5, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Contains(t, out[0].Content, "banana")
}

func TestUpdateSourceInfoUpsertsAndReplaces(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.UpdateSourceInfo(ctx, "a.test", "first summary", 100))
	require.NoError(t, s.UpdateSourceInfo(ctx, "a.test", "second summary", 250))

	sources, err := s.GetSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, "second summary", sources[0].Summary)
	require.Equal(t, 250, sources[0].WordCount)
}

func TestChunkIDIsDeterministicAndDistinctPerCollection(t *testing.T) {
	docID := ChunkID("https://a.test/p", 3)
	codeID := CodeExampleID("https://a.test/p", 3)
	require.Equal(t, docID, ChunkID("https://a.test/p", 3))
	require.NotEqual(t, docID, codeID)
}
