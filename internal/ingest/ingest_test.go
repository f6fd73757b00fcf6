package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ragserver/internal/fetch"
	"ragserver/internal/retrieve"
	"ragserver/internal/store"
)

type stubFetcher struct {
	records map[string]fetch.Record
}

func (f stubFetcher) FetchBatch(_ context.Context, urls []string, _ int) []fetch.Record {
	out := make([]fetch.Record, len(urls))
	for i, u := range urls {
		if rec, ok := f.records[u]; ok {
			out[i] = rec
			continue
		}
		out[i] = fetch.Record{URL: u, OK: true, Markdown: ""}
	}
	return out
}

type stubEmbedder struct{ dim int }

func (s stubEmbedder) Embed(_ context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out
}

type recordingStore struct {
	docs        []store.DocumentChunk
	code        []store.DocumentChunk
	sourceCalls []int
}

func (s *recordingStore) AddDocuments(_ context.Context, chunks []store.DocumentChunk) error {
	s.docs = append(s.docs, chunks...)
	return nil
}

func (s *recordingStore) AddCodeExamples(_ context.Context, chunks []store.DocumentChunk) error {
	s.code = append(s.code, chunks...)
	return nil
}

func (s *recordingStore) UpdateSourceInfo(_ context.Context, _, _ string, wordCount int) error {
	s.sourceCalls = append(s.sourceCalls, wordCount)
	return nil
}

func newOrchestrator(fetcher Fetcher, docStore DocumentStore) *Orchestrator {
	return New(fetcher, nil, stubEmbedder{dim: 3}, docStore, nil, nil, nil, Options{})
}

func TestScrapeURLsSkipsEmptyMarkdown(t *testing.T) {
	fetcher := stubFetcher{records: map[string]fetch.Record{
		"https://a.test/empty": {URL: "https://a.test/empty", OK: true, Markdown: "   "},
	}}
	docStore := &recordingStore{}
	o := newOrchestrator(fetcher, docStore)

	env := o.ScrapeURLs(context.Background(), []string{"https://a.test/empty"})
	require.True(t, env.Success)
	require.Len(t, env.Outcomes, 1)
	require.True(t, env.Outcomes[0].Skipped)
	require.Empty(t, docStore.docs)
}

func TestScrapeURLsPersistsChunksAndCodeExamples(t *testing.T) {
	md := "# Title\n\nSome intro text.\n\n```go\n" + repeatString("x", 300) + "\n```\n\nMore text after."
	fetcher := stubFetcher{records: map[string]fetch.Record{
		"https://a.test/doc": {URL: "https://a.test/doc", OK: true, Markdown: md},
	}}
	docStore := &recordingStore{}
	o := newOrchestrator(fetcher, docStore)

	env := o.ScrapeURLs(context.Background(), []string{"https://a.test/doc"})
	require.True(t, env.Success)
	require.Len(t, env.Outcomes, 1)
	require.True(t, env.Outcomes[0].OK)
	require.NotEmpty(t, docStore.docs)
	require.NotEmpty(t, docStore.code)
	require.Equal(t, "a.test", docStore.docs[0].SourceID)
}

func TestScrapeURLsDeduplicatesListInput(t *testing.T) {
	fetchCount := 0
	fetcher := countingFetcher{inner: stubFetcher{records: map[string]fetch.Record{
		"https://a.test/p": {URL: "https://a.test/p", OK: true, Markdown: "hello world"},
	}}, calls: &fetchCount}
	docStore := &recordingStore{}
	o := newOrchestrator(fetcher, docStore)

	env := o.ScrapeURLs(context.Background(), []string{"https://a.test/p", "https://a.test/p"})
	require.Equal(t, 1, env.URLsProcessed)
}

type countingFetcher struct {
	inner Fetcher
	calls *int
}

func (c countingFetcher) FetchBatch(ctx context.Context, urls []string, n int) []fetch.Record {
	*c.calls += len(urls)
	return c.inner.FetchBatch(ctx, urls, n)
}

func TestScrapeURLsAccumulatesWordCountPerSource(t *testing.T) {
	fetcher := stubFetcher{records: map[string]fetch.Record{
		"https://a.test/one": {URL: "https://a.test/one", OK: true, Markdown: "one two three four five"},
		"https://a.test/two": {URL: "https://a.test/two", OK: true, Markdown: "six seven eight"},
	}}
	docStore := &recordingStore{}
	o := newOrchestrator(fetcher, docStore)

	o.ScrapeURLs(context.Background(), []string{"https://a.test/one"})
	o.ScrapeURLs(context.Background(), []string{"https://a.test/two"})

	require.Len(t, docStore.sourceCalls, 2)
	require.Greater(t, docStore.sourceCalls[1], docStore.sourceCalls[0])
}

func TestScrapeURLsRecordsFetchFailure(t *testing.T) {
	fetcher := stubFetcher{records: map[string]fetch.Record{
		"https://a.test/bad": {URL: "https://a.test/bad", OK: false, ErrKind: fetch.ErrTimeout, Err: "deadline exceeded"},
	}}
	docStore := &recordingStore{}
	o := newOrchestrator(fetcher, docStore)

	env := o.ScrapeURLs(context.Background(), []string{"https://a.test/bad"})
	require.False(t, env.Success)
	require.Equal(t, "Timeout", env.Outcomes[0].ErrKind)
}

type stubSearchProvider struct{ urls []string }

func (s stubSearchProvider) Search(_ context.Context, _ string, numResults int) ([]string, error) {
	if numResults < len(s.urls) {
		return s.urls[:numResults], nil
	}
	return s.urls, nil
}

type stubRetriever struct{ results []retrieve.Result }

func (s stubRetriever) RAGQuery(_ context.Context, _, _ string, _ int) ([]retrieve.Result, error) {
	return s.results, nil
}

func TestSearchReturnsRawMarkdownWhenRequested(t *testing.T) {
	fetcher := stubFetcher{records: map[string]fetch.Record{
		"https://a.test/hit": {URL: "https://a.test/hit", OK: true, Markdown: "found it"},
	}}
	docStore := &recordingStore{}
	o := New(fetcher, nil, stubEmbedder{dim: 3}, docStore, nil, stubSearchProvider{urls: []string{"https://a.test/hit"}}, nil, Options{})

	env, err := o.Search(context.Background(), "query", 1, true)
	require.NoError(t, err)
	require.Equal(t, "found it", env.ScrapeEnvelope.Outcomes[0].Markdown)
	require.Nil(t, env.Results)
}

func TestSearchHandsOffToRetrieverWhenNotRaw(t *testing.T) {
	fetcher := stubFetcher{records: map[string]fetch.Record{
		"https://a.test/hit": {URL: "https://a.test/hit", OK: true, Markdown: "found it"},
	}}
	docStore := &recordingStore{}
	retriever := stubRetriever{results: []retrieve.Result{{}}}
	o := New(fetcher, nil, stubEmbedder{dim: 3}, docStore, nil, stubSearchProvider{urls: []string{"https://a.test/hit"}}, retriever, Options{})

	env, err := o.Search(context.Background(), "query", 1, false)
	require.NoError(t, err)
	require.Len(t, env.Results, 1)
}

func TestParseGithubRepositoryReturnsErrWhenDisabled(t *testing.T) {
	o := New(stubFetcher{}, nil, stubEmbedder{dim: 3}, &recordingStore{}, nil, nil, nil, Options{GraphIngestEnabled: false})
	err := o.ParseGithubRepository(context.Background(), "https://example.test/acme/widgets.git")
	require.ErrorIs(t, err, ErrGraphDisabled)
}

type stubGraphIngester struct {
	ingested       []string
	ingestedBranch []string
}

func (s *stubGraphIngester) IngestRepository(_ context.Context, cloneURL, branch string) error {
	s.ingested = append(s.ingested, cloneURL)
	s.ingestedBranch = append(s.ingestedBranch, branch)
	return nil
}

type stubSitemapFetcher struct{ body []byte }

func (s stubSitemapFetcher) Get(_ context.Context, _ string) (int, []byte, error) {
	return 200, s.body, nil
}

func TestSmartCrawlURLExpandsSitemapThenScrapes(t *testing.T) {
	sitemapBody := []byte(`<urlset><url><loc>https://a.test/one</loc></url><url><loc>https://a.test/two</loc></url></urlset>`)
	fetcher := stubFetcher{records: map[string]fetch.Record{
		"https://a.test/one": {URL: "https://a.test/one", OK: true, Markdown: "first page"},
		"https://a.test/two": {URL: "https://a.test/two", OK: true, Markdown: "second page"},
	}}
	docStore := &recordingStore{}
	o := newOrchestrator(fetcher, docStore)

	env := o.SmartCrawlURL(context.Background(), stubSitemapFetcher{body: sitemapBody}, fetcher, "https://a.test/sitemap.xml", 1, 5)
	require.Equal(t, "smart_crawl_url", env.Operation)
	require.Equal(t, 2, env.URLsProcessed)
}

func TestParseRepositoryBranchDelegatesToGraphIngester(t *testing.T) {
	graph := &stubGraphIngester{}
	o := New(stubFetcher{}, nil, stubEmbedder{dim: 3}, &recordingStore{}, graph, nil, nil, Options{GraphIngestEnabled: true})

	err := o.ParseRepositoryBranch(context.Background(), "https://example.test/acme/widgets.git", "feature-x")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.test/acme/widgets.git"}, graph.ingested)
	require.Equal(t, []string{"feature-x"}, graph.ingestedBranch)
}

func TestParseGithubRepositoryUsesDefaultBranch(t *testing.T) {
	graph := &stubGraphIngester{}
	o := New(stubFetcher{}, nil, stubEmbedder{dim: 3}, &recordingStore{}, graph, nil, nil, Options{GraphIngestEnabled: true})

	require.NoError(t, o.ParseGithubRepository(context.Background(), "https://example.test/acme/widgets.git"))
	require.Equal(t, []string{""}, graph.ingestedBranch)
}

func repeatString(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
