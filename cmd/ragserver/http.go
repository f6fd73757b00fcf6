package main

import (
	"context"
	"encoding/json"
	"fmt"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"ragserver/internal/config"
	"ragserver/internal/dispatch"
)

// serveHTTP runs the same twelve tools over mark3labs/mcp-go's streamable
// HTTP transport, for operators who front the server with a reverse proxy
// instead of driving it over stdio.
func serveHTTP(ctx context.Context, cfg *config.Config, d *deps) error {
	mcpServer := mcpserver.NewMCPServer(
		"ragserver",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
	)

	registerHTTPTools(mcpServer, d)

	httpServer := mcpserver.NewStreamableHTTPServer(mcpServer)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start(addr)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func envelopeHTTPResult(env dispatch.Envelope) (*mcpgo.CallToolResult, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return &mcpgo.CallToolResult{Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: string(body)}}}, nil
}

// parseHTTPArgs decodes a CallToolRequest's arguments map into a typed args
// struct via a JSON round trip, the same approach the teacher's file editor
// MCP server uses for its own request parsing.
func parseHTTPArgs[T any](request mcpgo.CallToolRequest) (T, error) {
	var out T
	data, err := json.Marshal(request.Params.Arguments)
	if err != nil {
		return out, fmt.Errorf("marshal arguments: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("unmarshal arguments: %w", err)
	}
	return out, nil
}

func registerHTTPTools(mcpServer *mcpserver.MCPServer, d *deps) {
	mcpServer.AddTool(mcpgo.NewTool("scrape_urls",
		mcpgo.WithDescription("Fetches one or more URLs, converts them to markdown, and stores them for retrieval"),
		mcpgo.WithString("url", mcpgo.Description("A single URL or a JSON array of URLs to scrape and store"), mcpgo.Required()),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, err := parseHTTPArgs[ScrapeURLsArgs](request)
		if err != nil {
			return nil, err
		}
		env := d.dispatcher.Dispatch(ctx, "scrape_urls",
			func() error { return dispatch.ValidateURLList(args.URL.values) },
			func(ctx context.Context) (any, error) {
				return d.orch.ScrapeURLs(ctx, args.URL.values), nil
			})
		return envelopeHTTPResult(env)
	})

	mcpServer.AddTool(mcpgo.NewTool("smart_crawl_url",
		mcpgo.WithDescription("Recursively crawls a URL and stores every page reached"),
		mcpgo.WithString("url", mcpgo.Description("URL to crawl"), mcpgo.Required()),
		mcpgo.WithNumber("max_depth", mcpgo.Description("Maximum link-following depth, defaults to 3")),
		mcpgo.WithNumber("max_concurrent", mcpgo.Description("Maximum concurrent page fetches, defaults to 10")),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, err := parseHTTPArgs[SmartCrawlURLArgs](request)
		if err != nil {
			return nil, err
		}
		maxDepth := args.MaxDepth
		if maxDepth <= 0 {
			maxDepth = 3
		}
		maxConcurrent := args.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = 10
		}
		env := d.dispatcher.Dispatch(ctx, "smart_crawl_url",
			func() error { return dispatch.ValidateURL(args.URL) },
			func(ctx context.Context) (any, error) {
				return d.orch.SmartCrawlURL(ctx, d.smFetcher, d.pageFetch, args.URL, maxDepth, maxConcurrent), nil
			})
		return envelopeHTTPResult(env)
	})

	mcpServer.AddTool(mcpgo.NewTool("search",
		mcpgo.WithDescription("Runs a web search, scrapes the results, and returns matches"),
		mcpgo.WithString("query", mcpgo.Description("Search query"), mcpgo.Required()),
		mcpgo.WithNumber("num_results", mcpgo.Description("Number of results to scrape, defaults to 6")),
		mcpgo.WithBoolean("return_raw_markdown", mcpgo.Description("Return raw scraped markdown instead of a RAG query, defaults to false")),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, err := parseHTTPArgs[SearchArgs](request)
		if err != nil {
			return nil, err
		}
		numResults := args.NumResults
		if numResults <= 0 {
			numResults = 6
		}
		env := d.dispatcher.Dispatch(ctx, "search",
			func() error { return dispatch.ValidateNonEmptyString(args.Query, "query") },
			func(ctx context.Context) (any, error) {
				return d.orch.Search(ctx, args.Query, numResults, args.ReturnRawMarkdown)
			})
		return envelopeHTTPResult(env)
	})

	mcpServer.AddTool(mcpgo.NewTool("perform_rag_query",
		mcpgo.WithDescription("Runs a semantic search over previously stored pages"),
		mcpgo.WithString("query", mcpgo.Description("Natural-language query"), mcpgo.Required()),
		mcpgo.WithString("source", mcpgo.Description("Restrict results to this source_id")),
		mcpgo.WithNumber("match_count", mcpgo.Description("Number of matches, defaults to 5")),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, err := parseHTTPArgs[PerformRAGQueryArgs](request)
		if err != nil {
			return nil, err
		}
		matchCount := args.MatchCount
		if matchCount <= 0 {
			matchCount = 5
		}
		env := d.dispatcher.Dispatch(ctx, "perform_rag_query",
			func() error { return dispatch.ValidateNonEmptyString(args.Query, "query") },
			func(ctx context.Context) (any, error) {
				return d.retriever.RAGQuery(ctx, args.Query, args.Source, matchCount)
			})
		return envelopeHTTPResult(env)
	})

	mcpServer.AddTool(mcpgo.NewTool("search_code_examples",
		mcpgo.WithDescription("Runs a semantic search restricted to stored code examples"),
		mcpgo.WithString("query", mcpgo.Description("Natural-language description of the code being looked for"), mcpgo.Required()),
		mcpgo.WithString("source_id", mcpgo.Description("Restrict results to this source_id")),
		mcpgo.WithNumber("match_count", mcpgo.Description("Number of matches, defaults to 5")),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, err := parseHTTPArgs[SearchCodeExamplesArgs](request)
		if err != nil {
			return nil, err
		}
		matchCount := args.MatchCount
		if matchCount <= 0 {
			matchCount = 5
		}
		env := d.dispatcher.Dispatch(ctx, "search_code_examples",
			func() error { return dispatch.ValidateNonEmptyString(args.Query, "query") },
			func(ctx context.Context) (any, error) {
				if d.cfg.Flags.UseKnowledgeGraph {
					return d.retriever.ValidatedCodeSearch(ctx, args.Query, args.SourceID, matchCount)
				}
				return d.retriever.SearchCodeExamples(ctx, args.Query, args.SourceID, matchCount)
			})
		return envelopeHTTPResult(env)
	})

	mcpServer.AddTool(mcpgo.NewTool("get_available_sources",
		mcpgo.WithDescription("Lists every known source_id with its summary and word count"),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		env := d.dispatcher.Dispatch(ctx, "get_available_sources", nil,
			func(ctx context.Context) (any, error) {
				return d.store.GetSources(ctx)
			})
		return envelopeHTTPResult(env)
	})

	mcpServer.AddTool(mcpgo.NewTool("parse_github_repository",
		mcpgo.WithDescription("Clones a repository and writes its structure into the knowledge graph"),
		mcpgo.WithString("repo_url", mcpgo.Description("Git clone URL"), mcpgo.Required()),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, err := parseHTTPArgs[RepoURLArgs](request)
		if err != nil {
			return nil, err
		}
		env := d.dispatcher.Dispatch(ctx, "parse_github_repository",
			func() error { return dispatch.ValidateNonEmptyString(args.RepoURL, "repo_url") },
			func(ctx context.Context) (any, error) {
				return nil, d.orch.ParseGithubRepository(ctx, args.RepoURL)
			})
		return envelopeHTTPResult(env)
	})

	mcpServer.AddTool(mcpgo.NewTool("parse_repository_branch",
		mcpgo.WithDescription("Re-parses a repository at a specific branch into the knowledge graph"),
		mcpgo.WithString("repo_url", mcpgo.Description("Git clone URL"), mcpgo.Required()),
		mcpgo.WithString("branch", mcpgo.Description("Branch to parse"), mcpgo.Required()),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, err := parseHTTPArgs[ParseRepositoryBranchArgs](request)
		if err != nil {
			return nil, err
		}
		env := d.dispatcher.Dispatch(ctx, "parse_repository_branch",
			func() error { return dispatch.ValidateNonEmptyString(args.RepoURL, "repo_url") },
			func(ctx context.Context) (any, error) {
				return nil, d.orch.ParseRepositoryBranch(ctx, args.RepoURL, args.Branch)
			})
		return envelopeHTTPResult(env)
	})

	mcpServer.AddTool(mcpgo.NewTool("update_parsed_repository",
		mcpgo.WithDescription("Re-clones and re-parses a previously ingested repository"),
		mcpgo.WithString("repo_url", mcpgo.Description("Git clone URL"), mcpgo.Required()),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, err := parseHTTPArgs[RepoURLArgs](request)
		if err != nil {
			return nil, err
		}
		env := d.dispatcher.Dispatch(ctx, "update_parsed_repository",
			func() error { return dispatch.ValidateNonEmptyString(args.RepoURL, "repo_url") },
			func(ctx context.Context) (any, error) {
				return nil, d.orch.UpdateParsedRepository(ctx, args.RepoURL)
			})
		return envelopeHTTPResult(env)
	})

	mcpServer.AddTool(mcpgo.NewTool("get_repository_info",
		mcpgo.WithDescription("Summarizes a previously ingested repository"),
		mcpgo.WithString("repo_name", mcpgo.Description("Name of a previously ingested repository"), mcpgo.Required()),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, err := parseHTTPArgs[GetRepositoryInfoArgs](request)
		if err != nil {
			return nil, err
		}
		env := d.dispatcher.Dispatch(ctx, "get_repository_info",
			func() error { return dispatch.ValidateNonEmptyString(args.RepoName, "repo_name") },
			func(ctx context.Context) (any, error) {
				if d.graph == nil {
					return nil, dispatch.NewValidationError("knowledge graph is disabled")
				}
				return d.graph.RepositoryInfo(ctx, args.RepoName)
			})
		return envelopeHTTPResult(env)
	})

	mcpServer.AddTool(mcpgo.NewTool("query_knowledge_graph",
		mcpgo.WithDescription("Looks up a free-text entity name across classes, methods, and functions"),
		mcpgo.WithString("query", mcpgo.Description("Entity name to look up"), mcpgo.Required()),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, err := parseHTTPArgs[QueryKnowledgeGraphArgs](request)
		if err != nil {
			return nil, err
		}
		env := d.dispatcher.Dispatch(ctx, "query_knowledge_graph",
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
		return envelopeHTTPResult(env)
	})

	mcpServer.AddTool(mcpgo.NewTool("check_ai_script_hallucinations",
		mcpgo.WithDescription("Scans a script for calls that don't resolve against the knowledge graph"),
		mcpgo.WithString("script_path", mcpgo.Description("Path to the script to scan"), mcpgo.Required()),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, err := parseHTTPArgs[CheckAIScriptHallucinationsArgs](request)
		if err != nil {
			return nil, err
		}
		env := d.dispatcher.Dispatch(ctx, "check_ai_script_hallucinations",
			func() error { return dispatch.ValidateNonEmptyString(args.ScriptPath, "script_path") },
			func(ctx context.Context) (any, error) {
				if d.graph == nil {
					return nil, dispatch.NewValidationError("knowledge graph is disabled")
				}
				return checkScriptAgainstGraph(ctx, d, args.ScriptPath)
			})
		return envelopeHTTPResult(env)
	})
}
