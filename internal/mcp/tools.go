package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/rag"
)

func (s *Server) registerTools() {
	// kioku_query — ask the incident corpus a question.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_query",
			mcplib.WithDescription(`Ask the resolved-incident corpus how a production problem was fixed before.

WHEN TO USE: When you are debugging a payments issue and want to know
whether the same failure has been seen and resolved already. Describe the
symptom in plain language, or pass a known incident id (JSP-1052) to fetch
that record directly.

WHAT YOU GET BACK:
- generated_answer: a fix suggestion grounded in the retrieved incidents
- retrieved_incidents: the matched incidents with full score breakdowns
- sources: the incident ids the answer cites
- confidence_score: 0.0-1.0; refusals return 0 with the reason in metadata

The pipeline refuses rather than guesses: an out-of-domain question or a
corpus with no relevant precedent returns rag_strategy="refusal" with an
explanation instead of a made-up answer.

EXAMPLE: query="UPI payments timing out on Axis Bank during peak hours"`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query",
				mcplib.Description("The question: a symptom description, error text, or a bare incident id"),
				mcplib.Required(),
			),
			mcplib.WithNumber("max_incidents",
				mcplib.Description("Maximum incidents to retrieve (default: the strategy decides, 3-10 by query complexity)"),
				mcplib.Min(1),
				mcplib.Max(model.MaxIncidentsCap),
			),
			mcplib.WithNumber("confidence_threshold",
				mcplib.Description("Refuse instead of answering when confidence falls below this (0.0-1.0)"),
				mcplib.Min(0),
				mcplib.Max(1),
			),
			mcplib.WithBoolean("include_sources",
				mcplib.Description("Include cited incident ids in the response (default true)"),
			),
		),
		s.handleQuery,
	)

	// kioku_get_incident — fetch one incident record by id.
	s.mcpServer.AddTool(
		mcplib.NewTool("kioku_get_incident",
			mcplib.WithDescription(`Fetch one resolved incident record by its id.

WHEN TO USE: After kioku_query cited an incident and you want the full
record — complete description and resolution, not the truncated payload a
search result carries.

EXAMPLE: id="JSP-1052"`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("id",
				mcplib.Description("The incident identifier, e.g. JSP-1052 or SLACK-payments-1718181818"),
				mcplib.Required(),
			),
		),
		s.handleGetIncident,
	)
}

func (s *Server) handleQuery(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}

	req := rag.Request{
		Query:          query,
		IncludeSources: request.GetBool("include_sources", true),
		MaxIncidents:   request.GetInt("max_incidents", 0),
	}
	if threshold := request.GetFloat("confidence_threshold", 0); threshold > 0 {
		if threshold > 1 {
			return errorResult("confidence_threshold must be between 0 and 1"), nil
		}
		req.ConfidenceThreshold = threshold
	}
	if req.MaxIncidents < 0 || req.MaxIncidents > model.MaxIncidentsCap {
		return errorResult(fmt.Sprintf("max_incidents must be between 1 and %d", model.MaxIncidentsCap)), nil
	}

	resp, err := s.rag.Query(ctx, req)
	if err != nil {
		return errorResult(fmt.Sprintf("query failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(resp, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleGetIncident(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("id", "")
	if id == "" {
		return errorResult("id is required"), nil
	}

	in, err := s.corpus.Get(ctx, id)
	if err != nil {
		if model.KindOf(err) == model.KindNotFound {
			return errorResult(fmt.Sprintf("incident %q not found", id)), nil
		}
		return errorResult(fmt.Sprintf("lookup failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(in, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}
