package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"

	mcp "github.com/metoro-io/mcp-golang"

	"ragserver/internal/dispatch"
)

// registerTools registers every externally invocable tool (section 6) plus
// the supplemented knowledge-graph inspection tools on server, wiring each
// handler through d's dispatcher for the uniform success/error envelope.
func registerTools(server *mcp.Server, d *deps) {
	tools := []struct {
		name        string
		description string
		handler     interface{}
	}{
		{"scrape_urls", "Fetches one or more URLs, converts them to markdown, and stores them for retrieval", scrapeURLsHandler(d)},
		{"smart_crawl_url", "Recursively crawls a URL (sitemap, text file, or page with links) and stores every page reached", smartCrawlURLHandler(d)},
		{"search", "Runs a web search, scrapes the results, and returns either raw markdown or a RAG query over the freshly scraped pages", searchHandler(d)},
		{"perform_rag_query", "Runs a semantic (optionally hybrid/reranked) search over previously stored pages", performRAGQueryHandler(d)},
		{"search_code_examples", "Runs a semantic search restricted to stored code examples, optionally validated against the knowledge graph", searchCodeExamplesHandler(d)},
		{"get_available_sources", "Lists every source_id known to the vector store along with its summary and word count", getAvailableSourcesHandler(d)},
		{"parse_github_repository", "Clones a repository and writes its file/class/function structure into the knowledge graph", parseGithubRepositoryHandler(d)},
		{"parse_repository_branch", "Re-parses a repository at a specific branch into the knowledge graph", parseRepositoryBranchHandler(d)},
		{"update_parsed_repository", "Re-clones and re-parses a previously ingested repository", updateParsedRepositoryHandler(d)},
		{"get_repository_info", "Summarizes a previously ingested repository's file/class/function counts and branch/commit lists", getRepositoryInfoHandler(d)},
		{"query_knowledge_graph", "Looks up a free-text entity name across classes, methods, and functions in the knowledge graph", queryKnowledgeGraphHandler(d)},
		{"check_ai_script_hallucinations", "Scans a script for calls into known repositories and reports which ones resolve against the knowledge graph", checkAIScriptHallucinationsHandler(d)},
	}

	for _, tool := range tools {
		if err := server.RegisterTool(tool.name, tool.description, tool.handler); err != nil {
			log.Printf("error registering %s tool: %v", tool.name, err)
		}
	}
}

// envelopeResponse JSON-marshals env and wraps it as a single text content
// block, matching the tool-response convention every handler below uses.
func envelopeResponse(env dispatch.Envelope) (*mcp.ToolResponse, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return mcp.NewToolResponse(mcp.NewTextContent(string(body))), nil
}

// urlOrList unmarshals a JSON value that is either a single URL string or an
// array of URL strings, matching the scrape_urls url parameter's union type.
type urlOrList struct {
	values []string
}

func (u *urlOrList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		u.values = []string{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("url must be a string or an array of strings: %w", err)
	}
	u.values = list
	return nil
}

func (u urlOrList) MarshalJSON() ([]byte, error) {
	if len(u.values) == 1 {
		return json.Marshal(u.values[0])
	}
	return json.Marshal(u.values)
}

// ScrapeURLsArgs mirrors the scrape_urls tool's url parameter, which accepts
// either a single URL or a list of URLs.
type ScrapeURLsArgs struct {
	URL urlOrList `json:"url" jsonschema:"required,description=A single URL or a JSON array of URLs to scrape and store. Example: 'https://example.com/docs' or ['https://a.com','https://b.com']"`
}

func scrapeURLsHandler(d *deps) func(args ScrapeURLsArgs) (*mcp.ToolResponse, error) {
	return func(args ScrapeURLsArgs) (*mcp.ToolResponse, error) {
		env := d.dispatcher.Dispatch(d.ctx, "scrape_urls",
			func() error { return dispatch.ValidateURLList(args.URL.values) },
			func(ctx context.Context) (any, error) {
				return d.orch.ScrapeURLs(ctx, args.URL.values), nil
			})
		return envelopeResponse(env)
	}
}

// SmartCrawlURLArgs mirrors the smart_crawl_url tool.
type SmartCrawlURLArgs struct {
	URL           string `json:"url" jsonschema:"required,description=URL to crawl. May be a sitemap (sitemap.xml), a plain text file, or an ordinary page whose links will be followed. Example: 'https://example.com/sitemap.xml'"`
	MaxDepth      int    `json:"max_depth,omitempty" jsonschema:"minimum=1,description=Maximum link-following depth from the starting URL. Defaults to 3"`
	MaxConcurrent int    `json:"max_concurrent,omitempty" jsonschema:"minimum=1,description=Maximum number of pages fetched concurrently. Defaults to 10"`
}

func smartCrawlURLHandler(d *deps) func(args SmartCrawlURLArgs) (*mcp.ToolResponse, error) {
	return func(args SmartCrawlURLArgs) (*mcp.ToolResponse, error) {
		maxDepth := args.MaxDepth
		if maxDepth <= 0 {
			maxDepth = 3
		}
		maxConcurrent := args.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = 10
		}
		env := d.dispatcher.Dispatch(d.ctx, "smart_crawl_url",
			func() error { return dispatch.ValidateURL(args.URL) },
			func(ctx context.Context) (any, error) {
				return d.orch.SmartCrawlURL(ctx, d.smFetcher, d.pageFetch, args.URL, maxDepth, maxConcurrent), nil
			})
		return envelopeResponse(env)
	}
}

// SearchArgs mirrors the search tool.
type SearchArgs struct {
	Query             string `json:"query" jsonschema:"required,description=Search query to run against DuckDuckGo's lite search page. Example: 'golang context cancellation patterns'"`
	NumResults        int    `json:"num_results,omitempty" jsonschema:"minimum=1,description=Number of search results to scrape. Defaults to 6"`
	ReturnRawMarkdown bool   `json:"return_raw_markdown,omitempty" jsonschema:"description=If true, return the scraped markdown for each result instead of running a RAG query over them. Defaults to false"`
	BatchSize         int    `json:"batch_size,omitempty" jsonschema:"minimum=1,description=Accepted but not used: scraped pages are embedded in batches of the server's configured embedding_batch_size"`
	MaxConcurrent     int    `json:"max_concurrent,omitempty" jsonschema:"minimum=1,description=Accepted but not used: result pages are fetched under the server's configured max_concurrent_fetches limit"`
}

func searchHandler(d *deps) func(args SearchArgs) (*mcp.ToolResponse, error) {
	return func(args SearchArgs) (*mcp.ToolResponse, error) {
		numResults := args.NumResults
		if numResults <= 0 {
			numResults = 6
		}
		env := d.dispatcher.Dispatch(d.ctx, "search",
			func() error { return dispatch.ValidateNonEmptyString(args.Query, "query") },
			func(ctx context.Context) (any, error) {
				return d.orch.Search(ctx, args.Query, numResults, args.ReturnRawMarkdown)
			})
		return envelopeResponse(env)
	}
}

// PerformRAGQueryArgs mirrors the perform_rag_query tool.
type PerformRAGQueryArgs struct {
	Query      string `json:"query" jsonschema:"required,description=Natural-language query to search stored pages for. Example: 'how does the circuit breaker reset'"`
	Source     string `json:"source,omitempty" jsonschema:"description=Restrict results to this source_id (typically a hostname). Example: 'docs.example.com'"`
	MatchCount int    `json:"match_count,omitempty" jsonschema:"minimum=1,description=Number of matches to return. Defaults to 5"`
}

func performRAGQueryHandler(d *deps) func(args PerformRAGQueryArgs) (*mcp.ToolResponse, error) {
	return func(args PerformRAGQueryArgs) (*mcp.ToolResponse, error) {
		matchCount := args.MatchCount
		if matchCount <= 0 {
			matchCount = 5
		}
		env := d.dispatcher.Dispatch(d.ctx, "perform_rag_query",
			func() error { return dispatch.ValidateNonEmptyString(args.Query, "query") },
			func(ctx context.Context) (any, error) {
				return d.retriever.RAGQuery(ctx, args.Query, args.Source, matchCount)
			})
		return envelopeResponse(env)
	}
}

// SearchCodeExamplesArgs mirrors the search_code_examples tool.
type SearchCodeExamplesArgs struct {
	Query      string `json:"query" jsonschema:"required,description=Natural-language description of the code being looked for. Example: 'retry with exponential backoff'"`
	SourceID   string `json:"source_id,omitempty" jsonschema:"description=Restrict results to this source_id. Example: 'github.com'"`
	MatchCount int    `json:"match_count,omitempty" jsonschema:"minimum=1,description=Number of matches to return. Defaults to 5"`
}

func searchCodeExamplesHandler(d *deps) func(args SearchCodeExamplesArgs) (*mcp.ToolResponse, error) {
	return func(args SearchCodeExamplesArgs) (*mcp.ToolResponse, error) {
		matchCount := args.MatchCount
		if matchCount <= 0 {
			matchCount = 5
		}
		env := d.dispatcher.Dispatch(d.ctx, "search_code_examples",
			func() error { return dispatch.ValidateNonEmptyString(args.Query, "query") },
			func(ctx context.Context) (any, error) {
				if d.cfg.Flags.UseKnowledgeGraph {
					return d.retriever.ValidatedCodeSearch(ctx, args.Query, args.SourceID, matchCount)
				}
				return d.retriever.SearchCodeExamples(ctx, args.Query, args.SourceID, matchCount)
			})
		return envelopeResponse(env)
	}
}

// GetAvailableSourcesArgs is empty: get_available_sources takes no parameters.
type GetAvailableSourcesArgs struct{}

func getAvailableSourcesHandler(d *deps) func(args GetAvailableSourcesArgs) (*mcp.ToolResponse, error) {
	return func(args GetAvailableSourcesArgs) (*mcp.ToolResponse, error) {
		env := d.dispatcher.Dispatch(d.ctx, "get_available_sources", nil,
			func(ctx context.Context) (any, error) {
				return d.store.GetSources(ctx)
			})
		return envelopeResponse(env)
	}
}

// RepoURLArgs is shared by the three repository-ingest tools.
type RepoURLArgs struct {
	RepoURL string `json:"repo_url" jsonschema:"required,pattern=^(https?|git)://.*,description=Git clone URL of the repository. Example: 'https://github.com/user/repo.git'"`
}

func parseGithubRepositoryHandler(d *deps) func(args RepoURLArgs) (*mcp.ToolResponse, error) {
	return func(args RepoURLArgs) (*mcp.ToolResponse, error) {
		env := d.dispatcher.Dispatch(d.ctx, "parse_github_repository",
			func() error { return dispatch.ValidateNonEmptyString(args.RepoURL, "repo_url") },
			func(ctx context.Context) (any, error) {
				return nil, d.orch.ParseGithubRepository(ctx, args.RepoURL)
			})
		return envelopeResponse(env)
	}
}

// ParseRepositoryBranchArgs mirrors the parse_repository_branch tool.
type ParseRepositoryBranchArgs struct {
	RepoURL string `json:"repo_url" jsonschema:"required,pattern=^(https?|git)://.*,description=Git clone URL of the repository. Example: 'https://github.com/user/repo.git'"`
	Branch  string `json:"branch" jsonschema:"required,description=Branch to parse. Example: 'main'"`
}

func parseRepositoryBranchHandler(d *deps) func(args ParseRepositoryBranchArgs) (*mcp.ToolResponse, error) {
	return func(args ParseRepositoryBranchArgs) (*mcp.ToolResponse, error) {
		env := d.dispatcher.Dispatch(d.ctx, "parse_repository_branch",
			func() error { return dispatch.ValidateNonEmptyString(args.RepoURL, "repo_url") },
			func(ctx context.Context) (any, error) {
				return nil, d.orch.ParseRepositoryBranch(ctx, args.RepoURL, args.Branch)
			})
		return envelopeResponse(env)
	}
}

func updateParsedRepositoryHandler(d *deps) func(args RepoURLArgs) (*mcp.ToolResponse, error) {
	return func(args RepoURLArgs) (*mcp.ToolResponse, error) {
		env := d.dispatcher.Dispatch(d.ctx, "update_parsed_repository",
			func() error { return dispatch.ValidateNonEmptyString(args.RepoURL, "repo_url") },
			func(ctx context.Context) (any, error) {
				return nil, d.orch.UpdateParsedRepository(ctx, args.RepoURL)
			})
		return envelopeResponse(env)
	}
}

// GetRepositoryInfoArgs mirrors the get_repository_info tool.
type GetRepositoryInfoArgs struct {
	RepoName string `json:"repo_name" jsonschema:"required,description=Name of a previously ingested repository, as derived from its clone URL. Example: 'repo' for 'https://github.com/user/repo.git'"`
}

func getRepositoryInfoHandler(d *deps) func(args GetRepositoryInfoArgs) (*mcp.ToolResponse, error) {
	return func(args GetRepositoryInfoArgs) (*mcp.ToolResponse, error) {
		env := d.dispatcher.Dispatch(d.ctx, "get_repository_info",
			func() error { return dispatch.ValidateNonEmptyString(args.RepoName, "repo_name") },
			func(ctx context.Context) (any, error) {
				if d.graph == nil {
					return nil, dispatch.NewValidationError("knowledge graph is disabled")
				}
				return d.graph.RepositoryInfo(ctx, args.RepoName)
			})
		return envelopeResponse(env)
	}
}

// QueryKnowledgeGraphArgs mirrors the query_knowledge_graph tool.
type QueryKnowledgeGraphArgs struct {
	Query string `json:"query" jsonschema:"required,description=Free-text entity name to look up across classes, methods, and functions. Example: 'HTTPProvider' or 'Embed'"`
}

// knowledgeGraphMatch is one entity the knowledge graph resolved Query
// against, tagged with the kind of node it matched.
type knowledgeGraphMatch struct {
	Kind string `json:"kind"`
	Node any    `json:"node"`
}

func queryKnowledgeGraphHandler(d *deps) func(args QueryKnowledgeGraphArgs) (*mcp.ToolResponse, error) {
	return func(args QueryKnowledgeGraphArgs) (*mcp.ToolResponse, error) {
		env := d.dispatcher.Dispatch(d.ctx, "query_knowledge_graph",
			func() error { return dispatch.ValidateNonEmptyString(args.Query, "query") },
			func(ctx context.Context) (any, error) {
				if d.graph == nil {
					return nil, dispatch.NewValidationError("knowledge graph is disabled")
				}
				var matches []knowledgeGraphMatch
				if classes, err := d.graph.FindClass(ctx, args.Query, ""); err == nil {
					for _, n := range classes {
						matches = append(matches, knowledgeGraphMatch{Kind: "class", Node: n})
					}
				}
				if methods, err := d.graph.FindMethod(ctx, args.Query, "", ""); err == nil {
					for _, n := range methods {
						matches = append(matches, knowledgeGraphMatch{Kind: "method", Node: n})
					}
				}
				if funcs, err := d.graph.FindFunction(ctx, args.Query, ""); err == nil {
					for _, n := range funcs {
						matches = append(matches, knowledgeGraphMatch{Kind: "function", Node: n})
					}
				}
				return matches, nil
			})
		return envelopeResponse(env)
	}
}

// CheckAIScriptHallucinationsArgs mirrors the check_ai_script_hallucinations tool.
type CheckAIScriptHallucinationsArgs struct {
	ScriptPath string `json:"script_path" jsonschema:"required,description=Path to a source file to scan for calls into known repositories. Example: '/workspace/generated/main.go'"`
}

// callCheck is the per-call-site resolution result reported by
// check_ai_script_hallucinations.
type callCheck struct {
	Call     string `json:"call"`
	Resolved bool   `json:"resolved"`
}

// callPattern matches simple identifier or receiver.method call sites; it is
// a best-effort scan, not a language parser.
var callPattern = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)(\.[A-Za-z_][A-Za-z0-9_]*)?\s*\(`)

func checkAIScriptHallucinationsHandler(d *deps) func(args CheckAIScriptHallucinationsArgs) (*mcp.ToolResponse, error) {
	return func(args CheckAIScriptHallucinationsArgs) (*mcp.ToolResponse, error) {
		env := d.dispatcher.Dispatch(d.ctx, "check_ai_script_hallucinations",
			func() error { return dispatch.ValidateNonEmptyString(args.ScriptPath, "script_path") },
			func(ctx context.Context) (any, error) {
				if d.graph == nil {
					return nil, dispatch.NewValidationError("knowledge graph is disabled")
				}
				return checkScriptAgainstGraph(ctx, d, args.ScriptPath)
			})
		return envelopeResponse(env)
	}
}

func checkScriptAgainstGraph(ctx context.Context, d *deps, scriptPath string) ([]callCheck, error) {
	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	source := string(data)

	seen := make(map[string]bool)
	var checks []callCheck
	for _, m := range callPattern.FindAllStringSubmatch(source, -1) {
		receiver, member := m[1], strings.TrimPrefix(m[2], ".")
		call := receiver
		if member != "" {
			call = receiver + "." + member
		}
		if seen[call] {
			continue
		}
		seen[call] = true

		name := receiver
		class := ""
		if member != "" {
			name = member
			class = receiver
		}

		resolved := false
		if methods, err := d.graph.FindMethod(ctx, name, class, ""); err == nil && len(methods) > 0 {
			resolved = true
		}
		if !resolved {
			if funcs, err := d.graph.FindFunction(ctx, name, ""); err == nil && len(funcs) > 0 {
				resolved = true
			}
		}
		checks = append(checks, callCheck{Call: call, Resolved: resolved})
	}
	return checks, nil
}
