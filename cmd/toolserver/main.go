// Command toolserver hosts domain tools behind the MCP stdio transport
// (§4.A) that internal/transport.Supervisor speaks to on the other end.
// It wraps the RAG orchestrator (§4.I) so a chat service running in a
// separate process (or even on a separate host, via the teacher's
// subprocess-per-server model) can reach retrieval as one more tool
// server rather than an in-process call.
package main

import (
	"context"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"ragchat/internal/config"
	"ragchat/internal/observability"
	"ragchat/internal/rag"
	"ragchat/internal/retrieval"
	"ragchat/internal/version"
	"ragchat/internal/wiring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ragOrchestrator, err := wiring.BuildRAGOrchestrator(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build rag orchestrator")
	}

	server := mcppkg.NewServer(&mcppkg.Implementation{Name: "ragchat-toolserver", Version: version.Version}, nil)

	mcppkg.AddTool(server, &mcppkg.Tool{
		Name:        "retrieval_service_search",
		Description: "Search the knowledge base for information relevant to a query and return the most relevant chunks.",
	}, searchHandler(ragOrchestrator))

	ctx := context.Background()
	log.Info().Msg("toolserver listening on stdio")
	if err := server.Run(ctx, &mcppkg.StdioTransport{}); err != nil {
		log.Fatal().Err(err).Msg("toolserver stopped")
	}
}

type searchArgs struct {
	Query string `json:"query"`
}

type searchResultOut struct {
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
}

type searchOutput struct {
	Query   string            `json:"query"`
	Results []searchResultOut `json:"results"`
	Error   string            `json:"error,omitempty"`
}

// searchHandler adapts the RAG orchestrator (narrowed to the query it
// actually needs) to the go-sdk's typed tool-handler shape; it carries no
// conversation history since stdio tool servers are called without it
// (§4.A tools are history-agnostic at the transport level).
func searchHandler(ragOrchestrator *rag.Orchestrator) mcppkg.ToolHandlerFor[searchArgs, searchOutput] {
	return func(ctx context.Context, req *mcppkg.CallToolRequest, args searchArgs) (*mcppkg.CallToolResult, searchOutput, error) {
		out, err := ragOrchestrator.Retrieve(ctx, args.Query, []retrieval.HistoryTurn{})
		if err != nil {
			return nil, searchOutput{}, err
		}

		results := make([]searchResultOut, 0, len(out.Results))
		for _, r := range out.Results {
			results = append(results, searchResultOut{ChunkID: r.ChunkID, Text: r.Text})
		}

		return nil, searchOutput{Query: out.Query, Results: results, Error: out.Error}, nil
	}
}
